// Package config loads rig definitions from an INI inventory file. Each
// section describes one rig: which transport reaches it and the transport's
// static connection parameters.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Transport kinds accepted in an inventory.
const (
	TransportLocal  = "local"
	TransportSSH    = "ssh"
	TransportSerial = "serial"
	TransportPTY    = "pty"
	TransportQEMU   = "qemu"
)

// Rig is one machine definition from the inventory. Only the fields relevant
// to its transport are used.
type Rig struct {
	Name      string        `ini:"-"`
	Transport string        `ini:"transport"`
	Timeout   time.Duration `ini:"timeout"`

	// SSH.
	Host          string `ini:"host"`
	Port          int    `ini:"port"`
	User          string `ini:"user"`
	Password      string `ini:"-"`
	KeyPassphrase string `ini:"-"`

	// Serial and pty.
	Device   string `ini:"device"`
	BaudRate int    `ini:"baudrate"`
	PS1      string `ini:"ps1"`

	// QEMU guest.
	Binary     string `ini:"binary"`
	Arch       string `ini:"arch"`
	Kernel     string `ini:"kernel"`
	Initrd     string `ini:"initrd"`
	Memory     int    `ini:"memory"`
	Cores      int    `ini:"cores"`
	Threads    int    `ini:"threads"`
	Sockets    int    `ini:"sockets"`
	SharedDir  string `ini:"shared_dir"`
	GuestMount string `ini:"guest_mount"`
}

// Load reads the inventory at path. Section order is preserved.
func Load(path string) ([]Rig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load inventory %s: %w", path, err)
	}

	var rigs []Rig
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		rig := Rig{Name: section.Name(), Transport: TransportLocal}
		if err := section.MapTo(&rig); err != nil {
			return nil, fmt.Errorf("rig %s: %w", section.Name(), err)
		}
		rigs = append(rigs, rig)
	}
	return rigs, nil
}
