package comm

import (
	"sort"
	"strings"
)

// Command is a command to run through a communication layer. It is either an
// opaque command line or an ordered sequence of argument tokens. Both forms
// are equivalent; transports that need a textual line join tokens with single
// spaces and apply no quoting beyond what their line protocol requires.
type Command struct {
	line string
	args []string
}

// CommandLine wraps an opaque command line.
func CommandLine(line string) Command {
	return Command{line: line}
}

// CommandArgs builds a command from an ordered list of argument tokens.
func CommandArgs(args ...string) Command {
	return Command{args: args}
}

// String renders the command as a single line. Tokens containing whitespace
// or quotes are single-quoted so that a shell on the receiving end keeps
// them as one word; opaque lines pass through untouched.
func (c Command) String() string {
	if c.args == nil {
		return c.line
	}
	words := make([]string, len(c.args))
	for i, arg := range c.args {
		if arg == "" || strings.ContainsAny(arg, " \t\n'") {
			words[i] = ShellQuote(arg)
		} else {
			words[i] = arg
		}
	}
	return strings.Join(words, " ")
}

// Args returns the command as tokens. An opaque line is split on whitespace.
func (c Command) Args() []string {
	if c.args != nil {
		return c.args
	}
	return strings.Fields(c.line)
}

// Empty reports whether the command carries no tokens at all.
func (c Command) Empty() bool {
	return len(c.args) == 0 && strings.TrimSpace(c.line) == ""
}

// Environment maps variable names to values. Insertion order is irrelevant;
// transports that render assignments textually sort them by name so the same
// environment always produces the same command line.
type Environment map[string]string

// Prefix renders the environment as space-separated NAME=value assignments,
// suitable for prefixing ahead of a command on a line-oriented transport.
func (e Environment) Prefix() string {
	return strings.Join(e.List(), " ")
}

// List renders the environment as NAME=value pairs, sorted by name, in the
// form accepted by process-spawning transports.
func (e Environment) List() []string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(e))
	for _, name := range names {
		pairs = append(pairs, name+"="+e[name])
	}
	return pairs
}
