// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package guest

import (
	"fmt"

	"github.com/guestmem/guestmem/internal/libvirt"
	"github.com/guestmem/guestmem/internal/qmp"
)

// MonitorSession is the management-library channel for human monitor
// commands. The production implementation is [libvirt.Session]; tests inject
// their own.
type MonitorSession interface {
	// MonitorCommand sends one HMP command line and returns the monitor's
	// text response.
	MonitorCommand(cmd string) (string, error)

	// Close releases the session.
	Close() error
}

// libvirtBackend tunnels monitor commands through a management-library
// session. The monitor output format is the same as on the socket, minus the
// JSON wrapping.
type libvirtBackend struct {
	session MonitorSession
}

func newLibvirtBackend(domain string, cfg config) (*libvirtBackend, error) {
	session := cfg.session

	if session == nil {
		var err error

		session, err = libvirt.Connect(cfg.connectURI, domain)
		if err != nil {
			return nil, err
		}
	}

	return &libvirtBackend{session: session}, nil
}

func (b *libvirtBackend) Registers() (qmp.RegisterSet, error) {
	resp, err := b.session.MonitorCommand("info registers")
	if err != nil {
		return qmp.RegisterSet{}, err
	}

	return qmp.ParseRegisters([]byte(resp))
}

func (b *libvirtBackend) ReadSegment(addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, qmp.ErrZeroLength
	}

	if len(buf) > qmp.SegmentSize {
		return 0, qmp.ErrSegmentTooLarge
	}

	cmd := fmt.Sprintf("xp /%dxb 0x%x", len(buf), addr)

	resp, err := b.session.MonitorCommand(cmd)
	if err != nil {
		return 0, err
	}

	data, err := qmp.ParseMemoryText([]byte(resp), len(buf))
	if err != nil {
		return 0, err
	}

	if len(data) != len(buf) {
		return 0, qmp.ErrDumpTruncated
	}

	return copy(buf, data), nil
}

func (b *libvirtBackend) Close() error {
	return b.session.Close()
}
