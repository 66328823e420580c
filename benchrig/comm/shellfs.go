package comm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Sheller is the minimal execution surface ShellFS builds on.
type Sheller interface {
	Shell(ctx context.Context, cmd Command, opts *ExecOptions) (string, error)
}

// ShellFS implements the filesystem portion of the Layer contract with plain
// shell commands, for transports whose only way of touching files is running
// commands on the other end. Transports embed it and point it back at their
// own Shell, so every primitive goes over the wire the same way a user-typed
// command would.
//
// On transports without an exit status channel the primitives that depend on
// one (the bracket tests, Which) are best effort, like everything else there.
type ShellFS struct {
	sh Sheller
}

// NewShellFS returns a ShellFS executing through sh.
func NewShellFS(sh Sheller) ShellFS {
	return ShellFS{sh: sh}
}

func (f ShellFS) PathExists(ctx context.Context, path string) (bool, error) {
	return f.bracketTest(ctx, "-e", path)
}

func (f ShellFS) IsFile(ctx context.Context, path string) (bool, error) {
	return f.bracketTest(ctx, "-f", path)
}

func (f ShellFS) IsDir(ctx context.Context, path string) (bool, error) {
	return f.bracketTest(ctx, "-d", path)
}

// bracketTest runs a bracketed shell test. Exit status 1 is the test saying
// "no"; any other non-zero status is a genuine error and propagates.
func (f ShellFS) bracketTest(ctx context.Context, opt, path string) (bool, error) {
	_, err := f.sh.Shell(ctx, CommandArgs("[", opt, path, "]"), nil)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.ExitCode == 1 {
			return false, nil
		}
		return false, err
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f ShellFS) MakeDirs(ctx context.Context, path string, existOK bool) error {
	args := []string{"mkdir"}
	if existOK {
		args = append(args, "-p")
	}
	args = append(args, path)
	_, err := f.sh.Shell(ctx, CommandArgs(args...), nil)
	return err
}

func (f ShellFS) Remove(ctx context.Context, path string, recursive bool) error {
	args := []string{"rm"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, path)
	_, err := f.sh.Shell(ctx, CommandArgs(args...), nil)
	return err
}

func (f ShellFS) ReadFile(ctx context.Context, path string) (string, error) {
	return f.sh.Shell(ctx, CommandArgs("cat", path), nil)
}

func (f ShellFS) WriteContentToFile(ctx context.Context, content, path string) error {
	line := fmt.Sprintf("printf '%%s' %s > %s", ShellQuote(content), path)
	_, err := f.sh.Shell(ctx, CommandLine(line), &ExecOptions{UseShell: true})
	return err
}

func (f ShellFS) AppendLineToFile(ctx context.Context, line, path string) error {
	cmd := fmt.Sprintf(`printf '%%s\n' %s >> %s`, ShellQuote(line), path)
	_, err := f.sh.Shell(ctx, CommandLine(cmd), &ExecOptions{UseShell: true})
	return err
}

func (f ShellFS) FileSize(ctx context.Context, path string) (int64, error) {
	out, err := f.sh.Shell(ctx, CommandArgs("stat", "-c", "%s", path), nil)
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected stat output %q for %s: %w", out, path, err)
	}
	return size, nil
}

func (f ShellFS) Which(ctx context.Context, cmd string) (string, error) {
	out, err := f.sh.Shell(ctx, CommandArgs("which", cmd), nil)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return "", fmt.Errorf("%q: %w", cmd, ErrNotInPath)
	}
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("%q: %w", cmd, ErrNotInPath)
	}
	return out, nil
}

func (f ShellFS) RealPath(ctx context.Context, path string) (string, error) {
	return f.sh.Shell(ctx, CommandArgs("readlink", "-fm", path), nil)
}

func (f ShellFS) Hostname(ctx context.Context) (string, error) {
	return f.sh.Shell(ctx, CommandArgs("hostname"), nil)
}

func (f ShellFS) CurrentUser(ctx context.Context) (string, error) {
	return f.sh.Shell(ctx, CommandArgs("whoami"), nil)
}
