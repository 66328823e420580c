// Package comm defines the communication layer contract: one behavioral
// interface for executing commands and manipulating files across physically
// different transports (local process, SSH host, serial line, pseudo
// terminal, hypervisor console).
//
// A layer instance owns at most one underlying channel and is not safe for
// concurrent command issuance: one command must complete, or time out, before
// the next begins. Background subprocesses are the deliberate exception; they
// live outside the Shell round-trip and are only reached through Signal.
package comm

import (
	"context"

	"golang.org/x/sys/unix"
)

// Process identifies a background process previously started through a
// communication layer, so that a later Signal call can be correlated with it.
type Process struct {
	PID   int
	Layer Layer
}

// Signal delivers sig to the background process on its originating layer.
func (p *Process) Signal(ctx context.Context, sig unix.Signal) error {
	return p.Layer.Signal(ctx, p.PID, sig)
}

// BackgroundSpec describes where a background command's output goes and in
// which directory/environment it runs. Paths are in the transport namespace.
type BackgroundSpec struct {
	StdoutPath string
	StderrPath string
	Dir        string
	Env        Environment
}

// Layer is the contract every transport satisfies. Operations that a
// transport cannot implement meaningfully fail with an UnsupportedError
// rather than executing incorrectly.
type Layer interface {
	// Shell executes the command and returns its decoded output, trimmed
	// of surrounding whitespace and, on terminal-like transports, of echo
	// and prompt noise. Transports with a native exit status report
	// non-zero exits as a *CommandError unless covered by the options'
	// ignore list; the rest cannot detect failure beyond text inspection
	// (see HasExitStatus). An elapsed read window on a poll-based
	// transport is not an error: partial output is returned.
	Shell(ctx context.Context, cmd Command, opts *ExecOptions) (string, error)

	// ShellSucceed runs the command and downgrades a *CommandError to
	// false. All other failures propagate.
	ShellSucceed(ctx context.Context, cmd Command, opts *ExecOptions) (bool, error)

	// BackgroundSubprocess starts a non-blocking command whose output is
	// redirected to files, returning a handle sufficient to Signal it.
	BackgroundSubprocess(ctx context.Context, cmd Command, spec BackgroundSpec) (*Process, error)

	// Signal requests termination or interruption of a previously started
	// background process. It is fire and forget: it does not wait for the
	// process to actually terminate.
	Signal(ctx context.Context, pid int, sig unix.Signal) error

	// PathExists reports whether the path exists in the transport
	// namespace.
	PathExists(ctx context.Context, path string) (bool, error)

	// IsFile and IsDir are uniformly implemented as a bracketed shell
	// test; exit status 1 means false and any other non-zero status is a
	// genuine error.
	IsFile(ctx context.Context, path string) (bool, error)
	IsDir(ctx context.Context, path string) (bool, error)

	MakeDirs(ctx context.Context, path string, existOK bool) error
	Remove(ctx context.Context, path string, recursive bool) error
	ReadFile(ctx context.Context, path string) (string, error)
	WriteContentToFile(ctx context.Context, content, path string) error
	AppendLineToFile(ctx context.Context, line, path string) error
	FileSize(ctx context.Context, path string) (int64, error)

	// Which returns the absolute path of an executable, or an error
	// wrapping ErrNotInPath. It never returns an empty-but-present path.
	Which(ctx context.Context, cmd string) (string, error)

	RealPath(ctx context.Context, path string) (string, error)
	Hostname(ctx context.Context) (string, error)
	CurrentUser(ctx context.Context) (string, error)

	// CopyFromHost and CopyToHost move files across the host/transport
	// boundary. On a purely local transport copying is redundant and the
	// operations are unsupported.
	CopyFromHost(ctx context.Context, source, destination string) error
	CopyToHost(ctx context.Context, source, destination string) error

	// HostToCommPath and CommToHostPath translate between the host
	// filesystem namespace and the namespace visible to the transport.
	// The default is the identity mapping; transports that virtualize
	// storage override both directions so that they round-trip.
	HostToCommPath(path string) string
	CommToHostPath(path string) string

	// RemoteHost names the remote end, when there is one.
	RemoteHost() (string, bool)

	// IsLocal reports whether commands run on the calling host itself.
	IsLocal() bool

	// HasExitStatus reports whether Shell can observe a native exit
	// status. Serial and console transports cannot; their callers must
	// judge success from the returned text.
	HasExitStatus() bool
}

// StatusAware is satisfied by layers that hold an exclusive underlying
// resource, such as a serial port or a pseudo terminal, and expose its
// open/closed lifecycle. Open on an Open layer and Close on a Closed layer
// are caller logic bugs and are reported as errors, never silently ignored.
type StatusAware interface {
	IsOpen() bool
	Open() error
	Close() error
}
