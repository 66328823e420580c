// Package fstab models mount points and fstab tables. The rendered table is
// a boundary contract: downstream OS tooling parses it positionally, so the
// line format is fixed byte for byte.
package fstab

import (
	"context"
	"strconv"
	"strings"

	"github.com/m-217/benchrig/benchrig/comm"
)

// MountPoint describes a single filesystem attachment.
type MountPoint struct {
	What  string
	Where string
	Type  string
}

// Default mount points a minimal system needs.
var (
	Proc = MountPoint{What: "none", Where: "/proc", Type: "proc"}
	Sys  = MountPoint{What: "none", Where: "/sys", Type: "sysfs"}
	Dev  = MountPoint{What: "devtmpfs", Where: "/dev", Type: "devtmpfs"}
)

// MountCommand returns the mount invocation for this mount point. Extra
// arguments are passed comma-separated to -o.
func (m MountPoint) MountCommand(mountArgs ...string) []string {
	cmd := []string{"mount", "-t", m.Type}
	if len(mountArgs) > 0 {
		cmd = append(cmd, "-o", strings.Join(mountArgs, ","))
	}
	return append(cmd, m.What, m.Where)
}

// UnmountCommand returns the umount invocation for this mount point.
func (m MountPoint) UnmountCommand(umountArgs ...string) []string {
	return append([]string{"umount", m.Where}, umountArgs...)
}

// Pass is the fsck ordering field of an fstab entry.
type Pass int

const (
	NoCheck    Pass = 0
	DuringBoot Pass = 1
	AfterBoot  Pass = 2
)

// Entry is one fstab line. Nil Options means the single "defaults" option.
type Entry struct {
	MountPoint MountPoint
	Options    []string
	Dump       int
	Pass       Pass
}

func (e Entry) line() string {
	options := e.Options
	if len(options) == 0 {
		options = []string{"defaults"}
	}
	return strings.Join([]string{
		e.MountPoint.What,
		e.MountPoint.Where,
		e.MountPoint.Type,
		strings.Join(options, ","),
		strconv.Itoa(e.Dump),
		strconv.Itoa(int(e.Pass)),
	}, " ")
}

// Header is the fixed single-line comment heading every rendered table.
const Header = "# <file system> <mount point>   <type>  <options>       <dump>  <pass>"

// Table is a whole fstab file.
type Table struct {
	Entries []Entry
}

// Render produces the newline-terminated fstab text, one entry per line under
// the fixed header.
func (t Table) Render() string {
	lines := make([]string, 0, len(t.Entries)+1)
	lines = append(lines, Header)
	for _, entry := range t.Entries {
		lines = append(lines, entry.line())
	}
	return strings.Join(lines, "\n") + "\n"
}

// Save persists the rendered table at path through the given communication
// layer.
func (t Table) Save(ctx context.Context, layer comm.Layer, path string) error {
	return layer.WriteContentToFile(ctx, t.Render(), path)
}
