// Package platform binds a communication layer to host or guest
// introspection. A Platform is the single injection point used by
// orchestration code: benchmark runners, kernel builders and filesystem setup
// all receive one explicitly instead of fetching a process-wide default.
package platform

import (
	"context"
	"fmt"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/m-217/benchrig/benchrig/comm"
	"github.com/m-217/benchrig/benchrig/qemu"
)

// Platform couples a communication layer with what is known about the
// machine behind it.
type Platform struct {
	Comm comm.Layer
	Name string
}

// New returns a platform over the given layer.
func New(name string, layer comm.Layer) *Platform {
	return &Platform{Comm: layer, Name: name}
}

// Architecture returns the machine architecture reported by the platform.
func (p *Platform) Architecture(ctx context.Context) (string, error) {
	return p.Comm.Shell(ctx, comm.CommandArgs("uname", "-m"), nil)
}

// KernelVersion identifies the kernel currently running on the platform.
func (p *Platform) KernelVersion(ctx context.Context) (string, error) {
	return p.Comm.Shell(ctx, comm.CommandArgs("uname", "-r"), nil)
}

// NbCPUs returns the number of CPUs visible to the platform's operating
// system.
func (p *Platform) NbCPUs(ctx context.Context) (int, error) {
	out, err := p.Comm.Shell(ctx, comm.CommandArgs("nproc"), nil)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("unexpected nproc output %q: %w", out, err)
	}
	return n, nil
}

// Hostname returns the platform's hostname.
func (p *Platform) Hostname(ctx context.Context) (string, error) {
	return p.Comm.Hostname(ctx)
}

// CurrentUser returns the user commands run as on the platform.
func (p *Platform) CurrentUser(ctx context.Context) (string, error) {
	return p.Comm.CurrentUser(ctx)
}

// IsReachable checks basic connectivity to the platform. Remote platforms
// are pinged; everything else is reachable by construction once its layer
// exists.
func (p *Platform) IsReachable(ctx context.Context) error {
	host, remote := p.Comm.RemoteHost()
	if !remote {
		return nil
	}

	pinger, err := probing.NewPinger(host)
	if err != nil {
		return fmt.Errorf("ping %s: %w", host, err)
	}
	pinger.Count = 1
	pinger.Timeout = 3 * time.Second
	pinger.SetPrivileged(false)
	if err := pinger.RunWithContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", host, err)
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("host %s is not reachable", host)
	}
	return nil
}

// CPUOrder resolves a CPU ordering specification into a list of CPU
// identifiers: "asc" rotates CPU 0 to the back so the bootstrap CPU is
// assigned last, "desc" counts down from the highest identifier.
func CPUOrder(order string, nbCPUs int) ([]int, error) {
	result := make([]int, 0, nbCPUs)
	switch order {
	case "asc":
		for i := 1; i < nbCPUs; i++ {
			result = append(result, i)
		}
		result = append(result, 0)
	case "desc":
		for i := nbCPUs - 1; i >= 0; i-- {
			result = append(result, i)
		}
	default:
		return nil, fmt.Errorf("unknown CPU ordering %q", order)
	}
	return result, nil
}

// QEMUPlatform is a platform for a spawned guest machine. Topology questions
// are answered from the guest configuration instead of shelling into the
// guest, which may not have the usual introspection tools.
type QEMUPlatform struct {
	Platform
	Config *qemu.Config
}

// NewQEMU returns a platform over a guest-console layer.
func NewQEMU(name string, layer comm.Layer, cfg *qemu.Config) *QEMUPlatform {
	return &QEMUPlatform{
		Platform: Platform{Comm: layer, Name: name},
		Config:   cfg,
	}
}

// Architecture returns the configured guest architecture.
func (p *QEMUPlatform) Architecture(ctx context.Context) (string, error) {
	return p.Config.Arch, nil
}

// NbCPUs returns the number of CPUs the guest operating system sees.
func (p *QEMUPlatform) NbCPUs(ctx context.Context) (int, error) {
	return p.Config.Topology.LogicalCores(), nil
}

// NbIsolatedCPUs returns how many guest CPUs are isolated from the
// scheduler.
func (p *QEMUPlatform) NbIsolatedCPUs() int {
	return len(p.Config.Topology.IsolatedCores)
}

// NbActiveCPUs returns how many guest CPUs are available to the scheduler.
func (p *QEMUPlatform) NbActiveCPUs() int {
	return p.Config.Topology.LogicalCores() - p.NbIsolatedCPUs()
}
