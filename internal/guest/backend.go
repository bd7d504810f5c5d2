// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package guest

import (
	"log/slog"

	"github.com/guestmem/guestmem/internal/qmp"
)

// AccessMode selects which backend serves a [Guest].
type AccessMode int

const (
	// AccessQMP talks to the QEMU monitor socket directly.
	AccessQMP AccessMode = iota
	// AccessLibvirt tunnels monitor commands through the management library.
	AccessLibvirt
	// AccessFile reads from a flat physical memory image.
	AccessFile
)

// MarshalText implements the [encoding.TextMarshaler] interface.
func (m AccessMode) MarshalText() ([]byte, error) {
	switch m {
	case AccessQMP:
		return []byte("qmp"), nil
	case AccessLibvirt:
		return []byte("libvirt"), nil
	case AccessFile:
		return []byte("file"), nil
	}

	return nil, ErrAccessModeInvalid
}

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
func (m *AccessMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "qmp":
		*m = AccessQMP
	case "libvirt":
		*m = AccessLibvirt
	case "file":
		*m = AccessFile
	default:
		return ErrAccessModeInvalid
	}

	return nil
}

// String implements the [fmt.Stringer] interface.
func (m AccessMode) String() string {
	text, err := m.MarshalText()
	if err != nil {
		return "invalid"
	}

	return string(text)
}

// Backend is a single acquisition channel into a guest.
type Backend interface {
	// Registers fetches the guest's control registers.
	Registers() (qmp.RegisterSet, error)

	// ReadSegment reads len(buf) bytes of guest physical memory at addr.
	// len(buf) must be in (0, qmp.SegmentSize]. Only the file backend may
	// return fewer bytes than requested, which signals that the source
	// ended.
	ReadSegment(addr uint64, buf []byte) (int, error)

	// Close releases the backend's resource.
	Close() error
}

// AddrKind says how an address passed to [Guest.ReadMemory] is interpreted.
type AddrKind int

const (
	// KindPhysical passes addresses through unchanged.
	KindPhysical AddrKind = iota
	// KindVirtual translates kernel virtual addresses using the [Layout].
	KindVirtual
)

type config struct {
	layout     Layout
	connectURI string
	qmpOpts    []qmp.Option
	session    MonitorSession
}

// Option modifies how [Open] constructs a [Guest].
type Option func(*config)

// WithLayout sets the kernel memory layout used for virtual address
// translation.
func WithLayout(layout Layout) Option {
	return func(cfg *config) {
		cfg.layout = layout
	}
}

// WithConnectURI sets the management library connection URI used by
// [AccessLibvirt]. Defaults to the system hypervisor connection.
func WithConnectURI(uri string) Option {
	return func(cfg *config) {
		cfg.connectURI = uri
	}
}

// WithQMPOptions passes options through to the QMP client used by
// [AccessQMP].
func WithQMPOptions(opts ...qmp.Option) Option {
	return func(cfg *config) {
		cfg.qmpOpts = opts
	}
}

// WithSession injects a ready management-library session for
// [AccessLibvirt], bypassing the connection to the real library.
func WithSession(session MonitorSession) Option {
	return func(cfg *config) {
		cfg.session = session
	}
}

// Guest is a caller-owned handle to one acquisition backend. It is not safe
// for concurrent use.
type Guest struct {
	mode    AccessMode
	backend Backend
	layout  Layout
	closed  bool
}

// Open constructs exactly one backend for the given mode and target and
// returns a handle bound to it. The target is a socket path for [AccessQMP],
// a domain name for [AccessLibvirt], and a file path for [AccessFile]. On
// failure no resource stays open.
func Open(mode AccessMode, target string, opts ...Option) (*Guest, error) {
	if target == "" {
		return nil, ErrEmptyTarget
	}

	cfg := config{layout: DefaultLayout()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		backend Backend
		err     error
	)

	switch mode {
	case AccessQMP:
		backend, err = qmp.Dial(target, cfg.qmpOpts...)
	case AccessLibvirt:
		backend, err = newLibvirtBackend(target, cfg)
	case AccessFile:
		backend, err = newFileBackend(target)
	default:
		return nil, ErrAccessModeInvalid
	}

	if err != nil {
		return nil, err
	}

	slog.Debug("guest backend ready",
		slog.String("mode", mode.String()),
		slog.String("target", target))

	return &Guest{
		mode:    mode,
		backend: backend,
		layout:  cfg.layout,
	}, nil
}

// Mode returns the access mode the handle was opened with.
func (g *Guest) Mode() AccessMode {
	return g.mode
}

// Registers fetches the guest's IDTR, CR3 and CR4.
func (g *Guest) Registers() (qmp.RegisterSet, error) {
	return g.backend.Registers()
}

// ReadMemory reads length bytes of guest memory at addr. Virtual addresses
// are translated to physical first. The read is split into segments of
// [qmp.SegmentSize] bytes; the first failing segment fails the whole read
// and the returned slice is nil. A file backend that ends before length
// bytes returns the shorter slice without an error.
func (g *Guest) ReadMemory(
	addr uint64,
	kind AddrKind,
	length int,
) ([]byte, error) {
	if length <= 0 {
		return nil, qmp.ErrZeroLength
	}

	phys := g.layout.ToPhysical(addr, kind)

	buf := make([]byte, length)

	n, err := readChunked(g.backend.ReadSegment, phys, buf)
	if err != nil {
		return nil, err
	}

	return buf[:n], nil
}

// Close releases the backend. Closing twice is a no-op.
func (g *Guest) Close() error {
	if g.closed {
		return nil
	}

	g.closed = true

	return g.backend.Close()
}
