package qemu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-217/benchrig/benchrig/fstab"
)

func minimalConfig() *Config {
	return &Config{
		Binary: "qemu-system-x86_64",
		Arch:   "x86_64",
		Kernel: "/boot/bzImage",
		Memory: 2048,
		Topology: CPUTopology{
			Cores:          4,
			ThreadsPerCore: 2,
		},
	}
}

func TestLogicalCores(t *testing.T) {
	assert.Equal(t, 8, CPUTopology{Cores: 4, ThreadsPerCore: 2}.LogicalCores())
	assert.Equal(t, 16, CPUTopology{Cores: 4, ThreadsPerCore: 2, Sockets: 2}.LogicalCores())
}

func TestIsolcpusArg(t *testing.T) {
	assert.Equal(t, "", CPUTopology{Cores: 2, ThreadsPerCore: 1}.isolcpusArg())
	assert.Equal(t, "isolcpus=1,2,3", CPUTopology{
		Cores:          4,
		ThreadsPerCore: 1,
		IsolatedCores:  []int{3, 1, 2},
	}.isolcpusArg())
}

func TestValidate(t *testing.T) {
	require.NoError(t, minimalConfig().Validate())

	for name, mutate := range map[string]func(*Config){
		"missing binary": func(c *Config) { c.Binary = "" },
		"missing kernel": func(c *Config) { c.Kernel = "" },
		"missing memory": func(c *Config) { c.Memory = 0 },
		"no cores":       func(c *Config) { c.Topology.Cores = 0 },
		"no threads":     func(c *Config) { c.Topology.ThreadsPerCore = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := minimalConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestArgvMinimal(t *testing.T) {
	argv, err := minimalConfig().Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"qemu-system-x86_64",
		"-smp", "8,cores=4,threads=2,sockets=1,maxcpus=8",
		"-m", "2048",
		"-kernel", "/boot/bzImage",
		"-nographic",
	}, argv)
}

func TestArgvFull(t *testing.T) {
	cfg := minimalConfig()
	cfg.Initrd = "/boot/initrd.img"
	cfg.EnablePTY = true
	cfg.KernelArgs = []string{"quiet"}
	cfg.Topology.IsolatedCores = []int{2, 3}
	cfg.SharedDir = "/srv/shared"
	cfg.ExtraArgs = []string{"-enable-kvm"}

	argv, err := cfg.Argv()
	require.NoError(t, err)
	line := strings.Join(argv, " ")

	assert.Contains(t, line, "-initrd /boot/initrd.img")
	assert.Contains(t, line, "-serial pty")
	assert.Contains(t, line, "-append quiet console=ttyS0 isolcpus=2,3")
	assert.Contains(t, line, "-virtfs local,path=/srv/shared,mount_tag=host0,security_model=none")
	assert.Equal(t, "-enable-kvm", argv[len(argv)-1])
}

func TestArgvInvalidConfig(t *testing.T) {
	cfg := minimalConfig()
	cfg.Kernel = ""
	_, err := cfg.Argv()
	assert.Error(t, err)
}

func TestGuestMountPoint(t *testing.T) {
	cfg := minimalConfig()
	assert.Equal(t, "/mnt", cfg.GuestMountPoint())
	cfg.GuestMount = "/shared"
	assert.Equal(t, "/shared", cfg.GuestMountPoint())
}

func TestSharedMount(t *testing.T) {
	cfg := minimalConfig()
	_, ok := cfg.SharedMount()
	assert.False(t, ok)

	cfg.SharedDir = "/srv/shared"
	mount, ok := cfg.SharedMount()
	require.True(t, ok)
	assert.Equal(t, fstab.MountPoint{What: "host0", Where: "/mnt", Type: "9p"}, mount)
}

func TestAddMinimalMountPoints(t *testing.T) {
	cfg := minimalConfig()
	cfg.AddMinimalMountPoints()
	assert.Equal(t, []fstab.MountPoint{fstab.Dev, fstab.Proc, fstab.Sys}, cfg.Mounts)
}
