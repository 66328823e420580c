package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-217/benchrig/benchrig/comm/localcomm"
	"github.com/m-217/benchrig/benchrig/comm/ptycomm"
	"github.com/m-217/benchrig/benchrig/config"
)

func TestSelectRigs(t *testing.T) {
	all := []config.Rig{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	selected, err := selectRigs(all, nil)
	require.NoError(t, err)
	assert.Equal(t, all, selected)

	selected, err = selectRigs(all, []string{"c", "a"})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "c", selected[0].Name)
	assert.Equal(t, "a", selected[1].Name)

	_, err = selectRigs(all, []string{"zz"})
	assert.ErrorContains(t, err, "not in the inventory")
}

func TestExecOptionsPerTransport(t *testing.T) {
	opts := execOptions(localcomm.New(), 2*time.Second)
	assert.True(t, opts.UseShell)
	assert.Equal(t, 2*time.Second, opts.Timeout)

	// A terminal transport rejects shell interpretation, so it must not be
	// requested there.
	opts = execOptions(ptycomm.New("/dev/pts/9", 0), 0)
	assert.False(t, opts.UseShell)
}

func TestExecOnRigLocal(t *testing.T) {
	rig := config.Rig{Name: "here", Transport: config.TransportLocal}

	out, err := execOnRig(context.Background(), rig, "echo one && echo two", 0)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", out)
}
