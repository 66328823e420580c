package sshcomm

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/m-217/benchrig/benchrig/comm"
)

func TestOptionsAddr(t *testing.T) {
	assert.Equal(t, "rig1:22", Options{Host: "rig1"}.Addr())
	assert.Equal(t, "rig1:2222", Options{Host: "rig1", Port: 2222}.Addr())
}

func TestClientConfigPassword(t *testing.T) {
	cfg, err := Options{Host: "rig1", User: "bench", Password: "secret"}.clientConfig()
	assert.NoError(t, err)
	assert.Equal(t, "bench", cfg.User)
	assert.Len(t, cfg.Auth, 1)
	assert.Equal(t, defaultDialTimeout, cfg.Timeout)
}

func TestCommandLine(t *testing.T) {
	cmd := comm.CommandArgs("make", "bench")

	assert.Equal(t, "make bench", commandLine(cmd, &comm.ExecOptions{}))

	line := commandLine(cmd, &comm.ExecOptions{
		Env: comm.Environment{"OMP_NUM_THREADS": "4", "LC_ALL": "C"},
	})
	assert.Equal(t, "LC_ALL=C OMP_NUM_THREADS=4 make bench", line)

	line = commandLine(cmd, &comm.ExecOptions{
		Dir: "/opt/suite",
		Env: comm.Environment{"V": "1"},
	})
	assert.Equal(t, "cd /opt/suite && V=1 make bench", line)
}

type exitStatusMsg struct {
	Status uint32
}

// startServer runs a minimal in-process SSH server that hands every exec
// request to handle, and returns its dial address.
func startServer(t *testing.T, handle func(command string, ch ssh.Channel)) string {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				serverConn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
				if err != nil {
					return
				}
				defer serverConn.Close()
				go ssh.DiscardRequests(reqs)
				for newCh := range chans {
					if newCh.ChannelType() != "session" {
						newCh.Reject(ssh.UnknownChannelType, "unsupported")
						continue
					}
					ch, chReqs, err := newCh.Accept()
					if err != nil {
						continue
					}
					go func() {
						for req := range chReqs {
							if req.Type != "exec" {
								req.Reply(false, nil)
								continue
							}
							var payload struct{ Command string }
							_ = ssh.Unmarshal(req.Payload, &payload)
							req.Reply(true, nil)
							go handle(payload.Command, ch)
						}
					}()
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func dialServer(t *testing.T, addr string) *Layer {
	t.Helper()
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "bench",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	require.NoError(t, err)
	layer := NewFromClient(client, "127.0.0.1")
	t.Cleanup(func() { layer.Disconnect() })
	return layer
}

func TestShellOverSession(t *testing.T) {
	addr := startServer(t, func(command string, ch ssh.Channel) {
		defer ch.Close()
		ch.Write([]byte("ran: " + command + "\n"))
		ch.SendRequest("exit-status", false, ssh.Marshal(exitStatusMsg{Status: 0}))
	})
	layer := dialServer(t, addr)

	out, err := layer.Shell(context.Background(), comm.CommandLine("uname -m"), nil)
	require.NoError(t, err)
	assert.Equal(t, "ran: uname -m", out)
}

func TestShellExitStatus(t *testing.T) {
	addr := startServer(t, func(command string, ch ssh.Channel) {
		defer ch.Close()
		ch.Stderr().Write([]byte("no such file\n"))
		ch.SendRequest("exit-status", false, ssh.Marshal(exitStatusMsg{Status: 2}))
	})
	layer := dialServer(t, addr)
	ctx := context.Background()

	_, err := layer.Shell(ctx, comm.CommandLine("cat /nope"), nil)
	var cmdErr *comm.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 2, cmdErr.ExitCode)
	assert.Equal(t, "no such file", cmdErr.Stderr)

	_, err = layer.Shell(ctx, comm.CommandLine("cat /nope"), &comm.ExecOptions{
		IgnoreReturnCodes: []int{2},
	})
	assert.NoError(t, err)
}

func TestShellTimeoutPartialOutput(t *testing.T) {
	// The remote command never finishes and keeps producing output; the
	// layer must stop the session before collecting what arrived.
	addr := startServer(t, func(command string, ch ssh.Channel) {
		for {
			if _, err := ch.Write([]byte("tick ")); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	})
	layer := dialServer(t, addr)

	out, err := layer.Shell(context.Background(), comm.CommandLine("yes tick"), &comm.ExecOptions{
		Timeout: 150 * time.Millisecond,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, out, "tick")
}

func TestLayerCapabilities(t *testing.T) {
	layer := NewFromClient(nil, "rig1")

	assert.False(t, layer.IsLocal())
	assert.True(t, layer.HasExitStatus())

	host, remote := layer.RemoteHost()
	assert.True(t, remote)
	assert.Equal(t, "rig1", host)

	assert.Equal(t, "/data/run", layer.HostToCommPath("/data/run"))
	assert.Equal(t, "/data/run", layer.CommToHostPath("/data/run"))
}
