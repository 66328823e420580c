package comm

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyOpen is returned by Open on a layer that already holds its
	// underlying channel. Callers must respect the lifecycle.
	ErrAlreadyOpen = errors.New("communication layer is already open")

	// ErrNotOpen is returned by Close, and by writes on transports that
	// require an explicit open, when the underlying channel is closed.
	ErrNotOpen = errors.New("communication layer is not open")

	// ErrNotInPath is wrapped by Which when the executable cannot be found.
	ErrNotInPath = errors.New("executable not found in PATH")
)

// CommandError reports a command that terminated with an exit status not
// covered by the caller's ignore list. Only transports with a native exit
// status channel produce it.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// UnsupportedError reports an operation that has no meaningful implementation
// on a transport. It is always propagated; silently doing nothing would
// mislead the caller about side effects.
type UnsupportedError struct {
	Transport string
	Op        string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported on the %s transport", e.Op, e.Transport)
}

// Unsupported returns an UnsupportedError for the given transport/operation.
func Unsupported(transport, op string) error {
	return &UnsupportedError{Transport: transport, Op: op}
}

// ShortWriteError reports a partial write of a command line to a byte-stream
// channel. It is fatal: retrying could execute an already-delivered prefix a
// second time.
type ShortWriteError struct {
	Written  int
	Expected int
}

func (e *ShortWriteError) Error() string {
	return fmt.Sprintf("short write on communication channel: wrote %d of %d bytes", e.Written, e.Expected)
}

// Succeeded collapses the outcome of a Shell call into a boolean: a
// CommandError becomes false, success becomes true and every other failure
// propagates unchanged.
func Succeeded(err error) (bool, error) {
	var cmdErr *CommandError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &cmdErr):
		return false, nil
	default:
		return false, err
	}
}
