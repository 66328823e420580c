package platform

import (
	"context"
	"fmt"

	"github.com/m-217/benchrig/benchrig/comm"
	"github.com/m-217/benchrig/benchrig/comm/localcomm"
	"github.com/m-217/benchrig/benchrig/comm/ptycomm"
	"github.com/m-217/benchrig/benchrig/comm/qemucomm"
	"github.com/m-217/benchrig/benchrig/comm/sshcomm"
	"github.com/m-217/benchrig/benchrig/comm/uartcomm"
	"github.com/m-217/benchrig/benchrig/config"
	"github.com/m-217/benchrig/benchrig/qemu"
)

// NewCommLayer builds the communication layer a rig definition asks for.
// Every call site's transport choice is explicit here; nothing is inferred
// from the shape of other arguments.
func NewCommLayer(ctx context.Context, rig config.Rig) (comm.Layer, error) {
	switch rig.Transport {
	case config.TransportLocal:
		return localcomm.New(), nil

	case config.TransportSSH:
		return sshcomm.Dial(sshcomm.Options{
			Host:          rig.Host,
			Port:          rig.Port,
			User:          rig.User,
			Password:      rig.Password,
			KeyPassphrase: rig.KeyPassphrase,
		})

	case config.TransportSerial:
		return uartcomm.New(ctx, uartcomm.Options{
			Device:      rig.Device,
			BaudRate:    rig.BaudRate,
			ReadTimeout: rig.Timeout,
			PS1:         rig.PS1,
		})

	case config.TransportPTY:
		return ptycomm.New(rig.Device, rig.Timeout), nil

	case config.TransportQEMU:
		cfg := QEMUConfig(rig)
		return qemucomm.Start(ctx, cfg, qemucomm.StartOptions{
			ReadTimeout: rig.Timeout,
		})

	default:
		return nil, fmt.Errorf("rig %s: unknown transport %q", rig.Name, rig.Transport)
	}
}

// QEMUConfig maps a rig definition onto a guest machine configuration.
func QEMUConfig(rig config.Rig) *qemu.Config {
	threads := rig.Threads
	if threads == 0 {
		threads = 1
	}
	return &qemu.Config{
		Binary: rig.Binary,
		Arch:   rig.Arch,
		Kernel: rig.Kernel,
		Initrd: rig.Initrd,
		Memory: rig.Memory,
		Topology: qemu.CPUTopology{
			Cores:          rig.Cores,
			ThreadsPerCore: threads,
			Sockets:        rig.Sockets,
		},
		SharedDir:  rig.SharedDir,
		GuestMount: rig.GuestMount,
		EnablePTY:  true,
	}
}

// NewPlatform builds the platform for a rig, wiring the transport its
// definition names.
func NewPlatform(ctx context.Context, rig config.Rig) (*Platform, error) {
	layer, err := NewCommLayer(ctx, rig)
	if err != nil {
		return nil, err
	}
	return New(rig.Name, layer), nil
}
