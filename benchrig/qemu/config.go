// Package qemu builds qemu-system invocations for guest benchmarking
// machines: CPU topology, memory, kernel and initrd, a 9p shared directory
// and a pty-backed serial console.
package qemu

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/m-217/benchrig/benchrig/fstab"
)

// DefaultGuestMount is where the shared directory appears inside the guest.
const DefaultGuestMount = "/mnt"

// CPUTopology describes the virtual CPU layout of a guest.
type CPUTopology struct {
	Cores          int
	ThreadsPerCore int
	Sockets        int
	IsolatedCores  []int
}

// LogicalCores returns the number of CPUs the guest operating system sees.
func (t CPUTopology) LogicalCores() int {
	sockets := t.Sockets
	if sockets == 0 {
		sockets = 1
	}
	return t.Cores * t.ThreadsPerCore * sockets
}

func (t CPUTopology) validate() error {
	if t.Cores <= 0 {
		return fmt.Errorf("topology needs at least one core")
	}
	if t.ThreadsPerCore <= 0 {
		return fmt.Errorf("topology needs at least one thread per core")
	}
	return nil
}

// isolcpusArg renders the isolcpus= kernel argument, or "" when no cores are
// isolated.
func (t CPUTopology) isolcpusArg() string {
	if len(t.IsolatedCores) == 0 {
		return ""
	}
	cores := append([]int(nil), t.IsolatedCores...)
	sort.Ints(cores)
	ids := make([]string, len(cores))
	for i, c := range cores {
		ids[i] = strconv.Itoa(c)
	}
	return "isolcpus=" + strings.Join(ids, ",")
}

// Config holds everything needed to spawn a guest machine. The initrd is
// consumed as a prebuilt artifact; building it is not this package's job.
type Config struct {
	// Binary is the qemu-system executable, e.g. qemu-system-x86_64.
	Binary string

	// Arch names the guest architecture, e.g. x86_64.
	Arch string

	Kernel string
	Initrd string

	// Memory in MB.
	Memory int

	// MaxCPUs caps hotpluggable CPUs; defaults to the topology's logical
	// core count.
	MaxCPUs int

	Topology CPUTopology

	KernelArgs []string

	// SharedDir, when set, is exported to the guest over 9p and mounted
	// at GuestMount.
	SharedDir  string
	GuestMount string

	// EnablePTY attaches the guest serial console to a host pty.
	EnablePTY bool

	// Mounts are performed by the guest init in addition to the shared
	// directory.
	Mounts []fstab.MountPoint

	ExtraArgs []string
}

// Validate checks that the config can produce a runnable command.
func (c *Config) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("qemu binary not set")
	}
	if c.Kernel == "" {
		return fmt.Errorf("kernel not set")
	}
	if c.Memory <= 0 {
		return fmt.Errorf("memory not set")
	}
	return c.Topology.validate()
}

// GuestMountPoint returns the guest-side mount point of the shared directory.
func (c *Config) GuestMountPoint() string {
	if c.GuestMount != "" {
		return c.GuestMount
	}
	return DefaultGuestMount
}

// AddMinimalMountPoints appends the devtmpfs/proc/sysfs mounts a minimal
// guest needs before running anything.
func (c *Config) AddMinimalMountPoints() {
	c.Mounts = append(c.Mounts, fstab.Dev, fstab.Proc, fstab.Sys)
}

// Argv compiles the full qemu command line.
func (c *Config) Argv() ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	topo := c.Topology
	sockets := topo.Sockets
	if sockets == 0 {
		sockets = 1
	}
	maxCPUs := c.MaxCPUs
	if maxCPUs == 0 {
		maxCPUs = topo.LogicalCores()
	}
	smp := strings.Join([]string{
		strconv.Itoa(topo.LogicalCores()),
		"cores=" + strconv.Itoa(topo.Cores),
		"threads=" + strconv.Itoa(topo.ThreadsPerCore),
		"sockets=" + strconv.Itoa(sockets),
		"maxcpus=" + strconv.Itoa(maxCPUs),
	}, ",")

	argv := []string{
		c.Binary,
		"-smp", smp,
		"-m", strconv.Itoa(c.Memory),
		"-kernel", c.Kernel,
	}
	if c.Initrd != "" {
		argv = append(argv, "-initrd", c.Initrd)
	}
	argv = append(argv, "-nographic")

	kernelArgs := append([]string(nil), c.KernelArgs...)
	if c.EnablePTY {
		argv = append(argv, "-serial", "pty")
		kernelArgs = append(kernelArgs, "console=ttyS0")
	}
	if isol := c.Topology.isolcpusArg(); isol != "" {
		kernelArgs = append(kernelArgs, isol)
	}
	if len(kernelArgs) > 0 {
		argv = append(argv, "-append", strings.Join(kernelArgs, " "))
	}

	if c.SharedDir != "" {
		argv = append(argv,
			"-virtfs",
			fmt.Sprintf("local,path=%s,mount_tag=host0,security_model=none", c.SharedDir),
		)
	}

	argv = append(argv, c.ExtraArgs...)
	return argv, nil
}

// SharedMount returns the 9p mount point the guest init must perform to see
// the shared directory, when one is configured.
func (c *Config) SharedMount() (fstab.MountPoint, bool) {
	if c.SharedDir == "" {
		return fstab.MountPoint{}, false
	}
	return fstab.MountPoint{
		What:  "host0",
		Where: c.GuestMountPoint(),
		Type:  "9p",
	}, true
}
