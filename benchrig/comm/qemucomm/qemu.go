// Package qemucomm implements the communication layer for a guest machine
// reached through its hypervisor console. A qemu process is spawned with its
// serial console attached to a host pty; the layer then drives that pty the
// same way the plain pseudo-terminal transport does, and adds path
// translation plus file transfer through the 9p shared directory.
package qemucomm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/m-217/benchrig/benchrig/comm/ptycomm"
	"github.com/m-217/benchrig/benchrig/qemu"
)

const defaultStartupTimeout = 30 * time.Second

// qemu announces the pty it allocated for a "-serial pty" device on its
// standard streams.
var consolePattern = regexp.MustCompile(`char device redirected to (\S+)`)

// StartOptions tune guest startup and console reads.
type StartOptions struct {
	// ReadTimeout is the console idle window, defaulting to one second.
	ReadTimeout time.Duration

	// StartupTimeout bounds waiting for qemu to announce the console pty.
	StartupTimeout time.Duration
}

// Layer is a guest-console communication layer. It embeds the pty transport
// driving the console and owns the qemu process behind it.
type Layer struct {
	*ptycomm.Layer

	proc       *exec.Cmd
	drain      *errgroup.Group
	sharedHost string
	guestMount string
}

// Start spawns the guest described by cfg and waits until its console pty is
// known and open.
func Start(ctx context.Context, cfg *qemu.Config, opts StartOptions) (*Layer, error) {
	if !cfg.EnablePTY {
		return nil, fmt.Errorf("guest console requires EnablePTY")
	}
	argv, err := cfg.Argv()
	if err != nil {
		return nil, err
	}

	proc := exec.Command(argv[0], argv[1:]...)
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return nil, err
	}

	slog.Debug("spawning guest machine", "argv", strings.Join(argv, " "))
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Binary, err)
	}

	deviceCh := make(chan string, 1)
	drain := &errgroup.Group{}
	for _, stream := range []io.Reader{stdout, stderr} {
		stream := stream
		drain.Go(func() error {
			scanner := bufio.NewScanner(stream)
			for scanner.Scan() {
				if m := consolePattern.FindStringSubmatch(scanner.Text()); m != nil {
					select {
					case deviceCh <- m[1]:
					default:
					}
				}
			}
			return scanner.Err()
		})
	}

	startupTimeout := opts.StartupTimeout
	if startupTimeout == 0 {
		startupTimeout = defaultStartupTimeout
	}

	var device string
	select {
	case device = <-deviceCh:
	case <-time.After(startupTimeout):
		err = fmt.Errorf("guest did not announce a console pty within %s", startupTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		_ = proc.Process.Kill()
		_ = drain.Wait()
		_ = proc.Wait()
		return nil, err
	}
	slog.Debug("guest console attached", "device", device)

	console := ptycomm.New(device, opts.ReadTimeout)
	if err := console.Open(); err != nil {
		_ = proc.Process.Kill()
		_ = drain.Wait()
		_ = proc.Wait()
		return nil, err
	}

	return &Layer{
		Layer:      console,
		proc:       proc,
		drain:      drain,
		sharedHost: cfg.SharedDir,
		guestMount: cfg.GuestMountPoint(),
	}, nil
}

// Stop tears the guest down: the console is released, the qemu process is
// killed and reaped. Every failure along the way is reported.
func (l *Layer) Stop() error {
	var result *multierror.Error
	if l.IsOpen() {
		result = multierror.Append(result, l.Close())
	}
	if l.proc != nil && l.proc.Process != nil {
		if err := l.proc.Process.Kill(); err != nil {
			result = multierror.Append(result, err)
		}
		_ = l.drain.Wait()
		// Exiting on SIGKILL is the expected outcome here.
		_ = l.proc.Wait()
	}
	return result.ErrorOrNil()
}

// The guest sees the shared directory under its mount point, so paths under
// either prefix translate to the other; everything else is passed through
// unchanged.

func (l *Layer) HostToCommPath(path string) string {
	return translate(path, l.sharedHost, l.guestMount)
}

func (l *Layer) CommToHostPath(path string) string {
	return translate(path, l.guestMount, l.sharedHost)
}

func translate(path, fromPrefix, toPrefix string) string {
	if fromPrefix == "" || toPrefix == "" {
		return path
	}
	if path == fromPrefix {
		return toPrefix
	}
	rel, found := strings.CutPrefix(path, fromPrefix+string(filepath.Separator))
	if !found {
		return path
	}
	return filepath.Join(toPrefix, rel)
}

// File transfer works through the shared mount: the guest-side path must
// resolve to somewhere inside it, and the copy itself happens on the host.

func (l *Layer) CopyFromHost(ctx context.Context, source, destination string) error {
	hostDst := l.CommToHostPath(destination)
	if hostDst == destination {
		return fmt.Errorf("destination %s is not under the shared mount %s", destination, l.guestMount)
	}
	return copyFile(source, hostDst)
}

func (l *Layer) CopyToHost(ctx context.Context, source, destination string) error {
	hostSrc := l.CommToHostPath(source)
	if hostSrc == source {
		return fmt.Errorf("source %s is not under the shared mount %s", source, l.guestMount)
	}
	return copyFile(hostSrc, destination)
}

func copyFile(source, destination string) error {
	src, err := os.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(destination)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
