// Package uartcomm implements the communication layer for a device attached
// over a serial/UART line.
//
// A serial terminal has no structured framing: it is an interactive
// line-discipline device that echoes what is typed and interleaves shell
// prompts with output. Command execution therefore writes a line, reads until
// the line goes idle, and heuristically strips echo and prompt noise from the
// captured bytes. The heuristic is best effort: output that legitimately
// contains the prompt string, or the command text itself, is corrupted by the
// stripping. There is also no exit status channel, so failure cannot be
// detected beyond inspecting the returned text.
package uartcomm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"go.bug.st/serial"
	"golang.org/x/sys/unix"

	"github.com/m-217/benchrig/benchrig/comm"
)

const (
	transportName = "serial"
	chunkSize     = 1024

	defaultBaudRate = 115200
)

// Options are the static connection parameters of a serial layer.
type Options struct {
	// Device is the serial device path, e.g. /dev/ttyUSB0.
	Device string

	// BaudRate defaults to 115200.
	BaudRate int

	// ReadTimeout is the idle window after which a read is considered
	// complete. Defaults to one second.
	ReadTimeout time.Duration

	// PS1 is the shell prompt printed by the device, e.g. "~ #". Its
	// occurrences are stripped from command output. When empty, the
	// prompt is detected by probing the line with an empty command.
	PS1 string
}

type portOpener func() (serial.Port, error)

// Layer drives a device through a serial line. The port is held exclusively
// while open; by default each command opens the port, runs, and closes it
// again so the port is not hogged between commands. Scoped keeps it open
// across a batch of operations instead.
type Layer struct {
	comm.ShellFS
	device      string
	baudRate    int
	readTimeout time.Duration
	ps1         string

	open portOpener
	port serial.Port
}

// New returns a serial layer for the given device. When no prompt is
// configured, the line is probed once to detect it, which opens the device
// briefly.
func New(ctx context.Context, opts Options) (*Layer, error) {
	return newLayer(ctx, opts, nil)
}

func newLayer(ctx context.Context, opts Options, open portOpener) (*Layer, error) {
	if opts.Device == "" && open == nil {
		return nil, fmt.Errorf("serial: no device given")
	}
	l := &Layer{
		device:      opts.Device,
		baudRate:    opts.BaudRate,
		readTimeout: opts.ReadTimeout,
		ps1:         opts.PS1,
	}
	if l.baudRate == 0 {
		l.baudRate = defaultBaudRate
	}
	if l.readTimeout <= 0 {
		l.readTimeout = comm.DefaultSerialTimeout
	}
	l.open = open
	if l.open == nil {
		l.open = func() (serial.Port, error) {
			return serial.Open(l.device, &serial.Mode{BaudRate: l.baudRate})
		}
	}
	l.ShellFS = comm.NewShellFS(l)

	if l.ps1 == "" {
		ps1, err := l.Shell(ctx, comm.CommandLine(""), nil)
		if err != nil {
			return nil, fmt.Errorf("probe prompt on %s: %w", l.device, err)
		}
		l.ps1 = ps1
		slog.Debug("detected serial prompt", "device", l.device, "ps1", l.ps1)
	}
	return l, nil
}

// IsOpen reports whether the layer currently holds the port.
func (l *Layer) IsOpen() bool {
	return l.port != nil
}

// Open acquires the serial port. Opening an already-open layer is a caller
// logic bug and fails.
func (l *Layer) Open() error {
	if l.IsOpen() {
		return comm.ErrAlreadyOpen
	}
	port, err := l.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", l.device, err)
	}
	if err := port.SetReadTimeout(l.readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("set read timeout on %s: %w", l.device, err)
	}
	l.port = port
	return nil
}

// Close releases the serial port. Closing an already-closed layer fails.
func (l *Layer) Close() error {
	if !l.IsOpen() {
		return comm.ErrNotOpen
	}
	err := l.port.Close()
	l.port = nil
	return err
}

// Scoped runs fn with the port held open for the whole block, releasing it on
// every exit path. Shell calls inside fn reuse the held port instead of
// re-opening per command.
func (l *Layer) Scoped(fn func() error) (err error) {
	if err := l.Open(); err != nil {
		return err
	}
	defer func() {
		if cerr := l.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()
	return fn()
}

func (l *Layer) Shell(ctx context.Context, cmd comm.Command, opts *comm.ExecOptions) (out string, err error) {
	if opts == nil {
		opts = &comm.ExecOptions{}
	}
	if opts.Stdin != "" {
		return "", comm.Unsupported(transportName, "standard input")
	}

	autoClose := false
	if !l.IsOpen() {
		if err := l.Open(); err != nil {
			return "", err
		}
		// Do not hog the port when not in use.
		autoClose = true
	}
	defer func() {
		if autoClose && l.IsOpen() {
			if cerr := l.Close(); cerr != nil {
				err = multierror.Append(err, cerr).ErrorOrNil()
			}
		}
	}()

	line := cmd.String()
	if len(opts.Env) > 0 {
		line = opts.Env.Prefix() + " " + line
	}
	if opts.Dir != "" {
		line = fmt.Sprintf("cd %s && %s", opts.Dir, line)
	}

	slog.Debug("writing serial command", "device", l.device, "command", line)

	payload := []byte(line + "\n")
	n, err := l.port.Write(payload)
	if err != nil {
		return "", fmt.Errorf("write to %s: %w", l.device, err)
	}
	if n != len(payload) {
		// The line may have been truncated on the wire; retrying could
		// execute the delivered prefix twice.
		return "", &comm.ShortWriteError{Written: n, Expected: len(payload)}
	}

	raw, err := l.readUntilIdle(ctx, opts.TimeoutOr(l.readTimeout))
	if err != nil {
		return "", err
	}

	text := comm.StripANSI(comm.DecodeText(raw))
	if l.ps1 != "" {
		// Prompts appear interleaved with output on an interactive
		// terminal and are not part of the command's output.
		text = strings.ReplaceAll(text, l.ps1, "")
	}
	if line != "" {
		// The terminal echoes what was typed.
		text = strings.ReplaceAll(text, line, "")
	}
	return strings.TrimSpace(text), nil
}

// readUntilIdle accumulates response bytes in fixed-size chunks until no more
// data arrives within the idle window. Elapsing the window is not an error;
// whatever was collected is the response.
func (l *Layer) readUntilIdle(ctx context.Context, window time.Duration) ([]byte, error) {
	if window != l.readTimeout {
		if err := l.port.SetReadTimeout(window); err != nil {
			return nil, fmt.Errorf("set read timeout on %s: %w", l.device, err)
		}
		defer l.port.SetReadTimeout(l.readTimeout)
	}

	var buf bytes.Buffer
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return buf.Bytes(), err
		}
		n, err := l.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("read from %s: %w", l.device, err)
		}
		if n == 0 {
			// Idle window elapsed with no further bytes.
			return buf.Bytes(), nil
		}
		buf.Write(chunk[:n])
	}
}

func (l *Layer) ShellSucceed(ctx context.Context, cmd comm.Command, opts *comm.ExecOptions) (bool, error) {
	_, err := l.Shell(ctx, cmd, opts)
	return comm.Succeeded(err)
}

func (l *Layer) BackgroundSubprocess(ctx context.Context, cmd comm.Command, spec comm.BackgroundSpec) (*comm.Process, error) {
	return nil, comm.Unsupported(transportName, "background subprocesses")
}

// Signal shells a kill invocation on the device side.
func (l *Layer) Signal(ctx context.Context, pid int, sig unix.Signal) error {
	_, err := l.Shell(ctx, comm.CommandLine(fmt.Sprintf("kill -%d %d", int(sig), pid)), nil)
	return err
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
