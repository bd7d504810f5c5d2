// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

// Package libvirt provides minimal dlopen bindings to the libvirt management
// library: just enough to look up a domain and tunnel human monitor commands
// to it. Connection and session handling beyond that is the library's
// business.
package libvirt

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// DefaultURI is the connection used when none is given.
const DefaultURI = "qemu:///system"

const (
	libvirtName     = "libvirt.so.0"
	libvirtQemuName = "libvirt-qemu.so.0"
	libcName        = "libc.so.6"

	// VIR_DOMAIN_QEMU_MONITOR_COMMAND_HMP
	monitorCommandHMP = 1
)

var (
	// ErrConnectFailed is returned if the management connection cannot be
	// opened.
	ErrConnectFailed = errors.New("cannot open management connection")

	// ErrDomainNotFound is returned if no domain exists under the given
	// name.
	ErrDomainNotFound = errors.New("domain not found")

	// ErrMonitorCommandFailed is returned if the library rejects a monitor
	// command.
	ErrMonitorCommandFailed = errors.New("monitor command failed")
)

var (
	loadOnce sync.Once
	loadErr  error

	virConnectOpen              func(uri string) uintptr
	virConnectClose             func(conn uintptr) int32
	virDomainLookupByName       func(conn uintptr, name string) uintptr
	virDomainFree               func(domain uintptr) int32
	virDomainQemuMonitorCommand func(domain uintptr, cmd string,
		result *uintptr, flags uint32) int32
	libcFree func(ptr uintptr)
)

// load binds the required library entry points once per process.
func load() error {
	loadOnce.Do(func() {
		lib, err := purego.Dlopen(libvirtName,
			purego.RTLD_GLOBAL|purego.RTLD_LAZY)
		if err != nil {
			loadErr = fmt.Errorf("dlopen %s: %w", libvirtName, err)
			return
		}

		// The monitor command entry point lives in the QEMU driver library.
		qemuLib, err := purego.Dlopen(libvirtQemuName,
			purego.RTLD_GLOBAL|purego.RTLD_LAZY)
		if err != nil {
			loadErr = fmt.Errorf("dlopen %s: %w", libvirtQemuName, err)
			return
		}

		// The library allocates response strings with malloc; they must be
		// released with the matching free.
		libc, err := purego.Dlopen(libcName,
			purego.RTLD_GLOBAL|purego.RTLD_LAZY)
		if err != nil {
			loadErr = fmt.Errorf("dlopen %s: %w", libcName, err)
			return
		}

		purego.RegisterLibFunc(&virConnectOpen, lib, "virConnectOpen")
		purego.RegisterLibFunc(&virConnectClose, lib, "virConnectClose")
		purego.RegisterLibFunc(&virDomainLookupByName, lib,
			"virDomainLookupByName")
		purego.RegisterLibFunc(&virDomainFree, lib, "virDomainFree")
		purego.RegisterLibFunc(&virDomainQemuMonitorCommand, qemuLib,
			"virDomainQemuMonitorCommand")
		purego.RegisterLibFunc(&libcFree, libc, "free")
	})

	return loadErr
}

// Session holds one management connection and the domain handle looked up on
// it. It is not safe for concurrent use.
type Session struct {
	conn   uintptr
	domain uintptr
	closed bool
}

// Connect opens the management connection at uri (DefaultURI if empty) and
// looks up the domain by name. On failure nothing stays open.
func Connect(uri, domain string) (*Session, error) {
	err := load()
	if err != nil {
		return nil, err
	}

	if uri == "" {
		uri = DefaultURI
	}

	conn := virConnectOpen(uri)
	if conn == 0 {
		return nil, fmt.Errorf("%w: %s", ErrConnectFailed, uri)
	}

	dom := virDomainLookupByName(conn, domain)
	if dom == 0 {
		_ = virConnectClose(conn)
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, domain)
	}

	return &Session{conn: conn, domain: dom}, nil
}

// MonitorCommand sends one HMP command line to the domain's monitor and
// returns the text response.
func (s *Session) MonitorCommand(cmd string) (string, error) {
	var result uintptr

	rc := virDomainQemuMonitorCommand(s.domain, cmd, &result,
		monitorCommandHMP)
	if rc < 0 {
		return "", fmt.Errorf("%w: %s", ErrMonitorCommandFailed, cmd)
	}

	if result == 0 {
		return "", nil
	}
	defer libcFree(result)

	return goString(result), nil
}

// Close frees the domain handle and closes the connection. Closing twice is
// a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	if s.domain != 0 {
		_ = virDomainFree(s.domain)
		s.domain = 0
	}

	if s.conn != 0 {
		_ = virConnectClose(s.conn)
		s.conn = 0
	}

	return nil
}

// goString copies a NUL terminated C string into Go memory.
func goString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}

	length := 0
	for *(*byte)(unsafe.Pointer(ptr + uintptr(length))) != 0 {
		length++
	}

	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length))
}
