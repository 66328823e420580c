package qemucomm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsolePattern(t *testing.T) {
	line := "char device redirected to /dev/pts/3 (label serial0)"
	m := consolePattern.FindStringSubmatch(line)
	require.NotNil(t, m)
	assert.Equal(t, "/dev/pts/3", m[1])

	assert.Nil(t, consolePattern.FindStringSubmatch("qemu-system-x86_64: warning: TCG"))
}

func TestTranslate(t *testing.T) {
	for _, tc := range []struct {
		name string
		path string
		from string
		to   string
		want string
	}{
		{"under the prefix", "/srv/shared/results/run1.json", "/srv/shared", "/mnt", "/mnt/results/run1.json"},
		{"the prefix itself", "/srv/shared", "/srv/shared", "/mnt", "/mnt"},
		{"outside the prefix", "/etc/passwd", "/srv/shared", "/mnt", "/etc/passwd"},
		{"sibling with common text", "/srv/shared-other/f", "/srv/shared", "/mnt", "/srv/shared-other/f"},
		{"no shared dir configured", "/srv/shared/f", "", "/mnt", "/srv/shared/f"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, translate(tc.path, tc.from, tc.to))
		})
	}
}

func TestPathTranslationRoundTrip(t *testing.T) {
	layer := &Layer{sharedHost: "/srv/shared", guestMount: "/mnt"}

	guest := layer.HostToCommPath("/srv/shared/bench/input.dat")
	assert.Equal(t, "/mnt/bench/input.dat", guest)
	assert.Equal(t, "/srv/shared/bench/input.dat", layer.CommToHostPath(guest))
}

func TestCopyFromHost(t *testing.T) {
	shared := t.TempDir()
	layer := &Layer{sharedHost: shared, guestMount: "/mnt"}
	ctx := context.Background()

	source := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(source, []byte("benchmark input"), 0o644))

	require.NoError(t, layer.CopyFromHost(ctx, source, "/mnt/inputs/payload"))

	content, err := os.ReadFile(filepath.Join(shared, "inputs", "payload"))
	require.NoError(t, err)
	assert.Equal(t, "benchmark input", string(content))
}

func TestCopyToHost(t *testing.T) {
	shared := t.TempDir()
	layer := &Layer{sharedHost: shared, guestMount: "/mnt"}
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(shared, "result.json"), []byte("{}"), 0o644))

	destination := filepath.Join(t.TempDir(), "collected", "result.json")
	require.NoError(t, layer.CopyToHost(ctx, "/mnt/result.json", destination))

	content, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(content))
}

func TestCopyOutsideSharedMount(t *testing.T) {
	layer := &Layer{sharedHost: t.TempDir(), guestMount: "/mnt"}
	ctx := context.Background()

	err := layer.CopyFromHost(ctx, "/tmp/x", "/etc/motd")
	assert.ErrorContains(t, err, "not under the shared mount")

	err = layer.CopyToHost(ctx, "/var/log/messages", "/tmp/x")
	assert.ErrorContains(t, err, "not under the shared mount")
}
