// benchrig runs commands and distributes files across the rigs of a
// benchmarking inventory, selecting each rig's transport from its INI
// definition.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/m-217/benchrig/benchrig/comm"
	"github.com/m-217/benchrig/benchrig/config"
	"github.com/m-217/benchrig/benchrig/platform"
)

var logger = logrus.New()

type flags struct {
	Inventory      string
	Rigs           rigsValue
	ExecCommand    string
	PushSpec       string
	Timeout        time.Duration
	Concurrency    int
	Debug          bool
	LogFileName    string
	PasswordPrompt bool
}

type rigsValue []string

func (r *rigsValue) String() string {
	return strings.Join(*r, ",")
}

func (r *rigsValue) Set(value string) error {
	*r = append(*r, value)
	return nil
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.Inventory, "inventory", "rigs.ini", "Path to the INI rig inventory")
	flag.Var(&f.Rigs, "rig", "Rig to target (repeatable; default: all rigs)")
	flag.StringVar(&f.ExecCommand, "exec", "", "Command to run on the selected rigs")
	flag.StringVar(&f.PushSpec, "push", "", "File to distribute, as <local path>:<rig path>")
	flag.DurationVar(&f.Timeout, "timeout", 0, "Per-command timeout (0 waits indefinitely)")
	flag.IntVar(&f.Concurrency, "concurrency", 4, "Maximum number of rigs driven at once")
	flag.BoolVar(&f.Debug, "debug", false, "Enable debug log level")
	flag.StringVar(&f.LogFileName, "log", "benchrig.log", "Log file name")
	flag.BoolVar(&f.PasswordPrompt, "password", false, "Prompt for an SSH password")
	flag.Parse()
	return f
}

func selectRigs(all []config.Rig, names []string) ([]config.Rig, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]config.Rig, len(all))
	for _, rig := range all {
		byName[rig.Name] = rig
	}
	selected := make([]config.Rig, 0, len(names))
	for _, name := range names {
		rig, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("rig %q is not in the inventory", name)
		}
		selected = append(selected, rig)
	}
	return selected, nil
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "SSH password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}

func execOnRig(ctx context.Context, rig config.Rig, command string, timeout time.Duration) (string, error) {
	layer, err := platform.NewCommLayer(ctx, rig)
	if err != nil {
		return "", fmt.Errorf("rig %s: %w", rig.Name, err)
	}
	if err := openLayer(layer); err != nil {
		return "", fmt.Errorf("rig %s: %w", rig.Name, err)
	}
	defer closeLayer(layer)

	out, err := layer.Shell(ctx, comm.CommandLine(command), execOptions(layer, timeout))
	if err != nil {
		return out, fmt.Errorf("rig %s: %w", rig.Name, err)
	}
	return out, nil
}

func pushToRig(ctx context.Context, rig config.Rig, source, destination string) error {
	layer, err := platform.NewCommLayer(ctx, rig)
	if err != nil {
		return fmt.Errorf("rig %s: %w", rig.Name, err)
	}
	if err := openLayer(layer); err != nil {
		return fmt.Errorf("rig %s: %w", rig.Name, err)
	}
	defer closeLayer(layer)

	if err := layer.CopyFromHost(ctx, source, destination); err != nil {
		return fmt.Errorf("rig %s: %w", rig.Name, err)
	}
	return nil
}

// execOptions builds the per-transport execution options for a user-supplied
// command line. Process-spawning transports need a shell to interpret it;
// terminal transports already talk to one and reject the request.
func execOptions(layer comm.Layer, timeout time.Duration) *comm.ExecOptions {
	return &comm.ExecOptions{
		UseShell: layer.HasExitStatus(),
		Timeout:  timeout,
	}
}

// openLayer acquires transports with an explicit open/close lifecycle before
// use; the guest-console factory returns its layer already open.
func openLayer(layer comm.Layer) error {
	if sa, ok := layer.(comm.StatusAware); ok && !sa.IsOpen() {
		return sa.Open()
	}
	return nil
}

// closeLayer releases whatever the transport holds: a guest process, an SSH
// connection or an exclusively held device.
func closeLayer(layer comm.Layer) {
	type disconnecter interface{ Disconnect() error }
	type stopper interface{ Stop() error }

	switch l := layer.(type) {
	case stopper:
		if err := l.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop rig")
		}
	case disconnecter:
		if err := l.Disconnect(); err != nil {
			logger.WithError(err).Warn("Failed to disconnect from rig")
		}
	case comm.StatusAware:
		if l.IsOpen() {
			if err := l.Close(); err != nil {
				logger.WithError(err).Warn("Failed to release rig")
			}
		}
	}
}

func run(f *flags) error {
	rigs, err := config.Load(f.Inventory)
	if err != nil {
		return err
	}
	rigs, err = selectRigs(rigs, f.Rigs)
	if err != nil {
		return err
	}
	if len(rigs) == 0 {
		return fmt.Errorf("inventory %s defines no rigs", f.Inventory)
	}

	if f.PasswordPrompt {
		password, err := promptPassword()
		if err != nil {
			return err
		}
		for i := range rigs {
			if rigs[i].Transport == config.TransportSSH {
				rigs[i].Password = password
			}
		}
	}

	ctx := context.Background()

	switch {
	case f.ExecCommand != "":
		return execEverywhere(ctx, rigs, f)
	case f.PushSpec != "":
		return pushEverywhere(ctx, rigs, f)
	default:
		return fmt.Errorf("nothing to do: pass -exec or -push")
	}
}

func execEverywhere(ctx context.Context, rigs []config.Rig, f *flags) error {
	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.Concurrency)

	for _, rig := range rigs {
		rig := rig
		g.Go(func() error {
			out, err := execOnRig(gctx, rig, f.ExecCommand, f.Timeout)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.WithError(err).WithField("rig", rig.Name).Error("Command failed")
				errs = multierror.Append(errs, err)
				return nil
			}
			fmt.Printf("=== %s ===\n%s\n", rig.Name, out)
			return nil
		})
	}
	_ = g.Wait()
	return errs.ErrorOrNil()
}

func pushEverywhere(ctx context.Context, rigs []config.Rig, f *flags) error {
	source, destination, ok := strings.Cut(f.PushSpec, ":")
	if !ok {
		return fmt.Errorf("push spec %q is not <local path>:<rig path>", f.PushSpec)
	}

	bar := progressbar.Default(int64(len(rigs)), "pushing "+source)
	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.Concurrency)

	for _, rig := range rigs {
		rig := rig
		g.Go(func() error {
			err := pushToRig(gctx, rig, source, destination)
			mu.Lock()
			defer mu.Unlock()
			_ = bar.Add(1)
			if err != nil {
				logger.WithError(err).WithField("rig", rig.Name).Error("Push failed")
				errs = multierror.Append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs.ErrorOrNil()
}

func main() {
	f := parseFlags()

	file, err := os.OpenFile(f.LogFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		logrus.Fatal(err)
	}
	defer file.Close()

	logger.SetOutput(file)
	if f.Debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	if err := run(f); err != nil {
		logger.Error(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
