// Package sshcomm implements the communication layer for a host reachable
// over SSH. One layer instance holds one client connection; every command
// runs in its own session on that connection.
package sshcomm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sys/unix"

	"github.com/m-217/benchrig/benchrig/comm"
)

const (
	transportName      = "ssh"
	defaultPort        = 22
	defaultDialTimeout = 15 * time.Second
)

// Options are the static connection parameters of an SSH layer.
type Options struct {
	Host          string
	Port          int
	User          string
	Password      string
	KeyPassphrase string
	DialTimeout   time.Duration
}

// Addr returns the dial address, applying the default SSH port.
func (o Options) Addr() string {
	port := o.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", o.Host, port)
}

func (o Options) clientConfig() (*ssh.ClientConfig, error) {
	var authMethod ssh.AuthMethod

	if o.Password != "" {
		slog.Debug("using password authentication", "host", o.Host)
		authMethod = ssh.Password(o.Password)
	} else {
		slog.Debug("using public key authentication", "host", o.Host)
		var keyManager KeyManager
		if o.KeyPassphrase != "" {
			keyManager = FileKeyManager{}
		} else {
			keyManager = AgentKeyManager{}
		}

		keys, err := keyManager.ReadPrivateKeys(o.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		authMethod = ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			return keys, nil
		})
	}

	timeout := o.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	return &ssh.ClientConfig{
		User:            o.User,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

// Layer executes commands on a remote host through an established SSH client.
type Layer struct {
	comm.ShellFS
	host   string
	client *ssh.Client
}

// Dial connects to the remote host and returns a ready layer.
func Dial(opts Options) (*Layer, error) {
	cfg, err := opts.clientConfig()
	if err != nil {
		return nil, err
	}
	client, err := ssh.Dial("tcp", opts.Addr(), cfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.Addr(), err)
	}
	return NewFromClient(client, opts.Host), nil
}

// NewFromClient wraps an already-connected SSH client.
func NewFromClient(client *ssh.Client, host string) *Layer {
	l := &Layer{host: host, client: client}
	l.ShellFS = comm.NewShellFS(l)
	return l
}

// Disconnect closes the underlying SSH connection.
func (l *Layer) Disconnect() error {
	return l.client.Close()
}

// commandLine renders the full remote command line: environment assignments
// first, then an optional directory change, then the command itself.
func commandLine(cmd comm.Command, opts *comm.ExecOptions) string {
	line := cmd.String()
	if len(opts.Env) > 0 {
		line = opts.Env.Prefix() + " " + line
	}
	if opts.Dir != "" {
		line = fmt.Sprintf("cd %s && %s", opts.Dir, line)
	}
	return line
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

	session, err := l.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session on %s: %w", l.host, err)
	}
	defer session.Close()

	line := commandLine(cmd, opts)
	if opts.Stdin != "" {
		session.Stdin = strings.NewReader(opts.Stdin)
	}

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	slog.Debug("running remote command", "host", l.host, "command", line)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		// The session copies remote output into the builders from its
		// own goroutines; close it and wait for Run to return before
		// reading them.
		_ = session.Close()
		<-done
		return strings.TrimSpace(stdout.String()), ctx.Err()
	}

	out := strings.TrimSpace(stdout.String())
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitStatus()
			if opts.CodeIgnored(code) {
				return out, nil
			}
			return out, &comm.CommandError{
				Command:  line,
				ExitCode: code,
				Output:   out,
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return out, fmt.Errorf("run on %s: %w", l.host, err)
	}
	return out, nil
}

func (l *Layer) ShellSucceed(ctx context.Context, cmd comm.Command, opts *comm.ExecOptions) (bool, error) {
	_, err := l.Shell(ctx, cmd, opts)
	return comm.Succeeded(err)
}

// BackgroundSubprocess starts the command under nohup on the remote and
// captures the PID the remote shell reports for it.
func (l *Layer) BackgroundSubprocess(ctx context.Context, cmd comm.Command, spec comm.BackgroundSpec) (*comm.Process, error) {
	line := fmt.Sprintf("nohup %s > %s 2> %s < /dev/null & echo $!",
		cmd.String(), spec.StdoutPath, spec.StderrPath)
	out, err := l.Shell(ctx, comm.CommandLine(line), &comm.ExecOptions{
		Dir: spec.Dir,
		Env: spec.Env,
	})
	if err != nil {
		return nil, err
	}
	var pid int
	if _, err := fmt.Sscanf(out, "%d", &pid); err != nil {
		return nil, fmt.Errorf("no pid reported for background command %q: %w", cmd.String(), err)
	}
	return &comm.Process{PID: pid, Layer: l}, nil
}

// Signal shells a kill invocation on the remote.
func (l *Layer) Signal(ctx context.Context, pid int, sig unix.Signal) error {
	_, err := l.Shell(ctx, comm.CommandLine(fmt.Sprintf("kill -%d %d", int(sig), pid)), nil)
	return err
}

// File content goes through the SFTP subsystem so it round-trips byte for
// byte; directory tests and path queries stay on the shared shell path.

func (l *Layer) ReadFile(ctx context.Context, path string) (string, error) {
	client, err := sftp.NewClient(l.client)
	if err != nil {
		return "", fmt.Errorf("sftp: %w", err)
	}
	defer client.Close()

	f, err := client.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (l *Layer) WriteContentToFile(ctx context.Context, content, path string) error {
	client, err := sftp.NewClient(l.client)
	if err != nil {
		return fmt.Errorf("sftp: %w", err)
	}
	defer client.Close()

	f, err := client.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write([]byte(content))
	return err
}

func (l *Layer) AppendLineToFile(ctx context.Context, line, path string) error {
	client, err := sftp.NewClient(l.client)
	if err != nil {
		return fmt.Errorf("sftp: %w", err)
	}
	defer client.Close()

	f, err := client.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write([]byte(line + "\n"))
	return err
}

func (l *Layer) FileSize(ctx context.Context, path string) (int64, error) {
	client, err := sftp.NewClient(l.client)
	if err != nil {
		return 0, fmt.Errorf("sftp: %w", err)
	}
	defer client.Close()

	info, err := client.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (l *Layer) CopyFromHost(ctx context.Context, source, destination string) error {
	client, err := sftp.NewClient(l.client)
	if err != nil {
		return fmt.Errorf("sftp: %w", err)
	}
	defer client.Close()

	src, err := os.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := client.Create(destination)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func (l *Layer) CopyToHost(ctx context.Context, source, destination string) error {
	client, err := sftp.NewClient(l.client)
	if err != nil {
		return fmt.Errorf("sftp: %w", err)
	}
	defer client.Close()

	src, err := client.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(destination)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func (l *Layer) HostToCommPath(path string) string { return path }

func (l *Layer) CommToHostPath(path string) string { return path }

func (l *Layer) RemoteHost() (string, bool) { return l.host, true }

func (l *Layer) IsLocal() bool { return false }

func (l *Layer) HasExitStatus() bool { return true }
