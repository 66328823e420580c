package comm

import (
	"time"
)

// DefaultSerialTimeout is the idle read window used by poll-based transports
// when the caller does not supply one.
const DefaultSerialTimeout = time.Second

// ExecOptions carries the optional parameters of a Shell invocation. The zero
// value (or a nil pointer) requests the transport defaults.
type ExecOptions struct {
	// Stdin is piped into the command when non-empty.
	Stdin string

	// Dir is the working directory in which to run the command.
	Dir string

	// Env is applied on top of the transport's base environment, either
	// natively (process-spawning transports) or as a NAME=value prefix on
	// the command line (line-oriented transports).
	Env Environment

	// UseShell requests that a shell interprets the command. Transports
	// whose channel already is an interactive shell ignore it.
	UseShell bool

	// Timeout bounds the command. On process-spawning transports it is an
	// overall deadline; on poll-based transports it is the idle window
	// after which reading stops and partial output is returned.
	Timeout time.Duration

	// IgnoreReturnCodes lists exit statuses that are not reported as a
	// command failure.
	IgnoreReturnCodes []int

	// IgnoreAnyReturnCode tolerates every exit status.
	IgnoreAnyReturnCode bool
}

// CodeIgnored reports whether the given exit status must be tolerated.
func (o *ExecOptions) CodeIgnored(code int) bool {
	if o == nil {
		return false
	}
	if o.IgnoreAnyReturnCode {
		return true
	}
	for _, ignored := range o.IgnoreReturnCodes {
		if ignored == code {
			return true
		}
	}
	return false
}

// TimeoutOr returns the configured timeout, or def when none is set.
func (o *ExecOptions) TimeoutOr(def time.Duration) time.Duration {
	if o == nil || o.Timeout <= 0 {
		return def
	}
	return o.Timeout
}
