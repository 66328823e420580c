// Package localcomm implements the communication layer for the calling host
// itself: commands run as child processes of the harness.
package localcomm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/m-217/benchrig/benchrig/comm"
)

const transportName = "local"

// Layer runs commands synchronously as child processes, with native support
// for background subprocesses and OS signals.
type Layer struct {
	comm.ShellFS
}

// New returns a local communication layer.
func New() *Layer {
	l := &Layer{}
	l.ShellFS = comm.NewShellFS(l)
	return l
}

func (l *Layer) Shell(ctx context.Context, cmd comm.Command, opts *comm.ExecOptions) (string, error) {
	if opts == nil {
		opts = &comm.ExecOptions{}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var c *exec.Cmd
	if opts.UseShell {
		c = exec.CommandContext(ctx, "sh", "-c", cmd.String())
	} else {
		args := cmd.Args()
		if len(args) == 0 {
			return "", errors.New("empty command")
		}
		c = exec.CommandContext(ctx, args[0], args[1:]...)
	}
	if opts.Dir != "" {
		c.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		c.Env = append(os.Environ(), opts.Env.List()...)
	}
	if opts.Stdin != "" {
		c.Stdin = strings.NewReader(opts.Stdin)
	}

	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr

	slog.Debug("running local command", "command", cmd.String(), "dir", opts.Dir)
	err := c.Run()
	out := strings.TrimSpace(stdout.String())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if opts.CodeIgnored(code) {
				return out, nil
			}
			return out, &comm.CommandError{
				Command:  cmd.String(),
				ExitCode: code,
				Output:   out,
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return out, err
	}
	return out, nil
}

func (l *Layer) ShellSucceed(ctx context.Context, cmd comm.Command, opts *comm.ExecOptions) (bool, error) {
	_, err := l.Shell(ctx, cmd, opts)
	return comm.Succeeded(err)
}

// BackgroundSubprocess launches a detached child whose output is redirected
// to the given files. The child gets its own session so that signals aimed at
// the harness do not reach it.
func (l *Layer) BackgroundSubprocess(ctx context.Context, cmd comm.Command, spec comm.BackgroundSpec) (*comm.Process, error) {
	args := cmd.Args()
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	stdout, err := os.Create(spec.StdoutPath)
	if err != nil {
		return nil, fmt.Errorf("create stdout file: %w", err)
	}
	stderr, err := os.Create(spec.StderrPath)
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("create stderr file: %w", err)
	}

	c := exec.Command(args[0], args[1:]...)
	c.Stdout = stdout
	c.Stderr = stderr
	if spec.Dir != "" {
		c.Dir = spec.Dir
	}
	if len(spec.Env) > 0 {
		c.Env = append(os.Environ(), spec.Env.List()...)
	}
	c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := c.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start background command %q: %w", cmd.String(), err)
	}
	slog.Debug("started background process", "command", cmd.String(), "pid", c.Process.Pid)

	// Reap the child once it exits so it does not linger as a zombie.
	go func() {
		_ = c.Wait()
		stdout.Close()
		stderr.Close()
	}()

	return &comm.Process{PID: c.Process.Pid, Layer: l}, nil
}

// Signal delivers a genuine OS signal to the process.
func (l *Layer) Signal(ctx context.Context, pid int, sig unix.Signal) error {
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("signal %d to pid %d: %w", sig, pid, err)
	}
	return nil
}

// Local file access goes through the OS directly so that file content
// round-trips byte for byte.

func (l *Layer) ReadFile(ctx context.Context, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (l *Layer) WriteContentToFile(ctx context.Context, content, path string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func (l *Layer) AppendLineToFile(ctx context.Context, line, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func (l *Layer) FileSize(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (l *Layer) Which(ctx context.Context, cmd string) (string, error) {
	path, err := exec.LookPath(cmd)
	if err != nil {
		return "", fmt.Errorf("%q: %w", cmd, comm.ErrNotInPath)
	}
	return path, nil
}

// Copies across the host boundary are redundant on the host itself.

func (l *Layer) CopyFromHost(ctx context.Context, source, destination string) error {
	return comm.Unsupported(transportName, "copy from host")
}

func (l *Layer) CopyToHost(ctx context.Context, source, destination string) error {
	return comm.Unsupported(transportName, "copy to host")
}

func (l *Layer) HostToCommPath(path string) string { return path }

func (l *Layer) CommToHostPath(path string) string { return path }

func (l *Layer) RemoteHost() (string, bool) { return "", false }

func (l *Layer) IsLocal() bool { return true }

func (l *Layer) HasExitStatus() bool { return true }
