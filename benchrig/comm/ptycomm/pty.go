// Package ptycomm implements the communication layer for a locally spawned
// pseudo-terminal device, exposed as a readable/writable file descriptor with
// the same poll-until-idle read discipline as a serial line.
//
// The layer is deliberately minimal: no prompt is configured so no echo or
// prompt stripping happens, there is no exit status channel, and operations
// that have no meaningful implementation on a bare terminal fail with a
// distinct unsupported error instead of executing incorrectly.
package ptycomm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/m-217/benchrig/benchrig/comm"
)

const (
	transportName = "pty"
	chunkSize     = 1024
)

// Layer drives a pseudo-terminal device file. Unlike the serial layer the
// caller scopes acquisition explicitly: Shell on a closed layer is an error,
// not a trigger for auto-opening.
type Layer struct {
	comm.ShellFS
	device      string
	readTimeout time.Duration
	fd          int
}

// New returns a layer for the given pty device. The device is not opened
// until Open is called.
func New(device string, readTimeout time.Duration) *Layer {
	if readTimeout <= 0 {
		readTimeout = comm.DefaultSerialTimeout
	}
	l := &Layer{
		device:      device,
		readTimeout: readTimeout,
		fd:          -1,
	}
	l.ShellFS = comm.NewShellFS(l)
	return l
}

// Device returns the pty device path.
func (l *Layer) Device() string {
	return l.device
}

func (l *Layer) IsOpen() bool {
	return l.fd >= 0
}

// Open opens the device read/write without making it the controlling
// terminal.
func (l *Layer) Open() error {
	if l.IsOpen() {
		return comm.ErrAlreadyOpen
	}
	fd, err := unix.Open(l.device, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.device, err)
	}
	l.fd = fd
	return nil
}

func (l *Layer) Close() error {
	if !l.IsOpen() {
		return comm.ErrNotOpen
	}
	err := unix.Close(l.fd)
	l.fd = -1
	if err != nil {
		return fmt.Errorf("close %s: %w", l.device, err)
	}
	return nil
}

func (l *Layer) Shell(ctx context.Context, cmd comm.Command, opts *comm.ExecOptions) (string, error) {
	if opts == nil {
		opts = &comm.ExecOptions{}
	}
	switch {
	case opts.Stdin != "":
		return "", comm.Unsupported(transportName, "standard input")
	case opts.Dir != "":
		return "", comm.Unsupported(transportName, "working directory")
	case opts.UseShell:
		return "", comm.Unsupported(transportName, "shell interpretation")
	case len(opts.Env) > 0:
		return "", comm.Unsupported(transportName, "environment variables")
	case opts.IgnoreAnyReturnCode || len(opts.IgnoreReturnCodes) > 0:
		return "", comm.Unsupported(transportName, "return code filtering")
	}
	if !l.IsOpen() {
		return "", comm.ErrNotOpen
	}

	line := cmd.String()
	slog.Debug("writing pty command", "device", l.device, "command", line)

	payload := []byte(line + "\n")
	n, err := unix.Write(l.fd, payload)
	if err != nil {
		return "", fmt.Errorf("write to %s: %w", l.device, err)
	}
	if n != len(payload) {
		return "", &comm.ShortWriteError{Written: n, Expected: len(payload)}
	}

	raw, err := l.readUntilIdle(ctx, opts.TimeoutOr(l.readTimeout))
	if err != nil {
		return "", err
	}

	// No prompt is configured on a bare pty, so only escape sequences are
	// stripped; callers see the echo.
	text := comm.StripANSI(comm.DecodeText(raw))
	return strings.TrimSpace(text), nil
}

// readUntilIdle polls the descriptor and accumulates chunks until no data
// arrives within the idle window. An elapsed window returns the partial
// output without error.
func (l *Layer) readUntilIdle(ctx context.Context, window time.Duration) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, chunkSize)
	fds := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return buf.Bytes(), err
		}
		n, err := unix.Poll(fds, int(window/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("poll %s: %w", l.device, err)
		}
		if n == 0 {
			return buf.Bytes(), nil
		}
		nr, err := unix.Read(l.fd, chunk)
		if err != nil {
			return nil, fmt.Errorf("read from %s: %w", l.device, err)
		}
		if nr == 0 {
			return buf.Bytes(), nil
		}
		buf.Write(chunk[:nr])
	}
}

func (l *Layer) ShellSucceed(ctx context.Context, cmd comm.Command, opts *comm.ExecOptions) (bool, error) {
	_, err := l.Shell(ctx, cmd, opts)
	return comm.Succeeded(err)
}

func (l *Layer) BackgroundSubprocess(ctx context.Context, cmd comm.Command, spec comm.BackgroundSpec) (*comm.Process, error) {
	return nil, comm.Unsupported(transportName, "background subprocesses")
}

// Signal shells a kill invocation on the terminal side.
func (l *Layer) Signal(ctx context.Context, pid int, sig unix.Signal) error {
	_, err := l.Shell(ctx, comm.CommandLine(fmt.Sprintf("kill -%d %d", int(sig), pid)), nil)
	return err
}

// The minimal terminal form leaves most file primitives unimplemented; the
// bracket tests and path queries inherited from ShellFS still go over the
// line as ordinary commands.

func (l *Layer) PathExists(ctx context.Context, path string) (bool, error) {
	return false, comm.Unsupported(transportName, "path existence checks")
}

func (l *Layer) ReadFile(ctx context.Context, path string) (string, error) {
	return "", comm.Unsupported(transportName, "file reads")
}

func (l *Layer) WriteContentToFile(ctx context.Context, content, path string) error {
	return comm.Unsupported(transportName, "file writes")
}

func (l *Layer) AppendLineToFile(ctx context.Context, line, path string) error {
	return comm.Unsupported(transportName, "file appends")
}

func (l *Layer) FileSize(ctx context.Context, path string) (int64, error) {
	return 0, comm.Unsupported(transportName, "file size queries")
}

func (l *Layer) CopyFromHost(ctx context.Context, source, destination string) error {
	return comm.Unsupported(transportName, "copy from host")
}

func (l *Layer) CopyToHost(ctx context.Context, source, destination string) error {
	return comm.Unsupported(transportName, "copy to host")
}

func (l *Layer) HostToCommPath(path string) string { return path }

func (l *Layer) CommToHostPath(path string) string { return path }

func (l *Layer) RemoteHost() (string, bool) { return "", false }

func (l *Layer) IsLocal() bool { return false }

func (l *Layer) HasExitStatus() bool { return false }
