package fstab

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/m-217/benchrig/benchrig/comm"
)

// FHS describes a Filesystem Hierarchy Standard skeleton to create on a
// target, such as the root of a fresh guest image.
type FHS struct {
	Root       string
	BaseDirs   []string
	UsrSubdirs []string
}

// MinimalFHS returns the smallest usable hierarchy.
func MinimalFHS(root string) FHS {
	return FHS{
		Root:       root,
		BaseDirs:   []string{"bin", "dev", "lib", "sbin", "proc", "sys", "usr"},
		UsrSubdirs: []string{"bin", "sbin", "local", "local/bin"},
	}
}

// StandardFHS adds the mutable directories on top of the minimal hierarchy.
func StandardFHS(root string) FHS {
	fhs := MinimalFHS(root)
	fhs.BaseDirs = append(fhs.BaseDirs, "mnt", "tmp")
	return fhs
}

// Create materializes the hierarchy through the given communication layer.
func (f FHS) Create(ctx context.Context, layer comm.Layer) error {
	hasUsr := false
	for _, dir := range f.BaseDirs {
		if dir == "usr" {
			hasUsr = true
		}
		if err := layer.MakeDirs(ctx, path.Join(f.Root, dir), true); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if !hasUsr && len(f.UsrSubdirs) > 0 {
		return fmt.Errorf("'usr' must be a base dir to create usr subdirs")
	}
	for _, sub := range f.UsrSubdirs {
		if err := layer.MakeDirs(ctx, path.Join(f.Root, "usr", sub), true); err != nil {
			return fmt.Errorf("create usr/%s: %w", sub, err)
		}
	}
	return nil
}

// InitScript builds the init shell script that mounts the essential
// filesystems before handing over to the workload.
type InitScript struct {
	Shebang  string
	Commands []string
}

// NewInitScript returns a script with the default shebang.
func NewInitScript() *InitScript {
	return &InitScript{Shebang: "#!/bin/sh"}
}

// AddMount appends the mount command for the given mount point.
func (s *InitScript) AddMount(m MountPoint, mountArgs ...string) {
	s.Commands = append(s.Commands, strings.Join(m.MountCommand(mountArgs...), " "))
}

// AddCommand appends a raw command line.
func (s *InitScript) AddCommand(line string) {
	s.Commands = append(s.Commands, line)
}

// Render produces the script text.
func (s *InitScript) Render() string {
	return s.Shebang + "\n\n" + strings.Join(s.Commands, "\n") + "\n"
}

// Save persists the script at path through the given communication layer.
func (s *InitScript) Save(ctx context.Context, layer comm.Layer, path string) error {
	return layer.WriteContentToFile(ctx, s.Render(), path)
}
