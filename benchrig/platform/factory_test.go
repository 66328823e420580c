package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-217/benchrig/benchrig/comm/localcomm"
	"github.com/m-217/benchrig/benchrig/comm/ptycomm"
	"github.com/m-217/benchrig/benchrig/config"
)

func TestNewCommLayerLocal(t *testing.T) {
	layer, err := NewCommLayer(context.Background(), config.Rig{
		Name:      "here",
		Transport: config.TransportLocal,
	})
	require.NoError(t, err)
	assert.IsType(t, &localcomm.Layer{}, layer)
}

func TestNewCommLayerPTY(t *testing.T) {
	layer, err := NewCommLayer(context.Background(), config.Rig{
		Name:      "console",
		Transport: config.TransportPTY,
		Device:    "/dev/pts/4",
	})
	require.NoError(t, err)
	pty, ok := layer.(*ptycomm.Layer)
	require.True(t, ok)
	assert.Equal(t, "/dev/pts/4", pty.Device())
}

func TestNewCommLayerUnknownTransport(t *testing.T) {
	_, err := NewCommLayer(context.Background(), config.Rig{
		Name:      "mystery",
		Transport: "carrier-pigeon",
	})
	assert.ErrorContains(t, err, "unknown transport")
}

func TestQEMUConfig(t *testing.T) {
	rig := config.Rig{
		Name:      "guest",
		Transport: config.TransportQEMU,
		Binary:    "qemu-system-x86_64",
		Arch:      "x86_64",
		Kernel:    "/boot/bzImage",
		Memory:    1024,
		Cores:     2,
		SharedDir: "/srv/shared",
	}

	cfg := QEMUConfig(rig)
	assert.Equal(t, "qemu-system-x86_64", cfg.Binary)
	assert.Equal(t, 2, cfg.Topology.Cores)
	assert.Equal(t, 1, cfg.Topology.ThreadsPerCore, "threads default to one per core")
	assert.True(t, cfg.EnablePTY)
	assert.Equal(t, "/mnt", cfg.GuestMountPoint())
	require.NoError(t, cfg.Validate())
}

func TestNewPlatform(t *testing.T) {
	p, err := NewPlatform(context.Background(), config.Rig{
		Name:      "here",
		Transport: config.TransportLocal,
	})
	require.NoError(t, err)
	assert.Equal(t, "here", p.Name)
	assert.True(t, p.Comm.IsLocal())
}
