// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qmp

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// Wire strings of the monitor protocol. The greeting marker and the
// negotiation reply are matched bit-exact.
const (
	greetingMarker      = `{"QMP":`
	capabilitiesCommand = `{ "execute": "qmp_capabilities" }`
	capabilitiesReply   = "{\"return\": {}}\r\n"
	registersCommand    = `{"execute": "human-monitor-command",` +
		` "arguments": {"command-line": "info registers"}}`
	memoryCommandFmt = `{"execute": "human-monitor-command",` +
		` "arguments": {"command-line": "xp /%dxb 0x%x"}}`
)

const (
	// SegmentSize is the largest memory read served by a single exchange.
	// Larger reads must be split into segments of at most this size.
	SegmentSize = 4096

	readChunkSize    = 1024
	greetingMaxSize  = 512
	registersMaxSize = 8192

	defaultIdleTimeout = 5 * time.Millisecond
	defaultMaxResponse = 1 << 20
)

// RegisterSet holds the control registers read from the guest vCPU.
type RegisterSet struct {
	IDTR uint64
	CR3  uint64
	CR4  uint64
}

// Client is a connected monitor session. It is not safe for concurrent use.
type Client struct {
	fd          int
	path        string
	idleTimeout time.Duration
	maxResponse int
	closed      bool
}

// Option modifies the behavior of a [Client].
type Option func(*Client)

// WithIdleTimeout sets the poll window after which a quiet socket is
// considered to have delivered the complete response. It must cover the time
// the monitor needs to produce a full response in one burst.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.idleTimeout = d
	}
}

// WithMaxResponseSize bounds the bytes accumulated for a single response.
func WithMaxResponseSize(n int) Option {
	return func(c *Client) {
		c.maxResponse = n
	}
}

// Dial connects to the monitor socket at path, receives the greeting and
// negotiates capabilities. On any failure the socket is closed and no client
// is returned.
func Dial(path string, opts ...Option) (*Client, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	client := &Client{
		fd:          -1,
		path:        path,
		idleTimeout: defaultIdleTimeout,
		maxResponse: defaultMaxResponse,
	}

	for _, opt := range opts {
		opt(client)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, &ConnectError{Path: path, Err: fmt.Errorf("socket: %w", err)}
	}

	client.fd = fd

	err = client.establish()
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	slog.Debug("monitor session established", slog.String("path", path))

	return client, nil
}

func (c *Client) establish() error {
	err := unix.Connect(c.fd, &unix.SockaddrUnix{Name: c.path})
	if err != nil {
		return &ConnectError{Path: c.path, Err: fmt.Errorf("connect: %w", err)}
	}

	err = unix.SetNonblock(c.fd, true)
	if err != nil {
		return &ConnectError{Path: c.path, Err: fmt.Errorf("set nonblock: %w", err)}
	}

	greeting, err := c.drain(greetingMaxSize)
	if err != nil {
		return err
	}

	if !bytes.HasPrefix(greeting, []byte(greetingMarker)) {
		return ErrGreetingMissing
	}

	return c.negotiate()
}

// negotiate enters command mode. The monitor must acknowledge with the fixed
// reply, compared against all bytes received.
func (c *Client) negotiate() error {
	err := c.send(capabilitiesCommand)
	if err != nil {
		return err
	}

	reply, err := c.drain(greetingMaxSize)
	if err != nil {
		return err
	}

	if !bytes.Equal(reply, []byte(capabilitiesReply)) {
		return ErrCapabilitiesRejected
	}

	return nil
}

// drain reads from the socket until it goes quiet for one idle window.
//
// There is no length or delimiter on the wire, so end-of-message is inferred
// from the first poll that times out with nothing readable. The response is
// read in chunks of at most 1 KiB and accumulated up to max bytes.
func (c *Client) drain(max int) ([]byte, error) {
	timeout := int(c.idleTimeout.Milliseconds())
	if timeout < 1 {
		timeout = 1
	}

	if max > c.maxResponse {
		max = c.maxResponse
	}

	pollFds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		pollFds[0].Revents = 0

		n, err := unix.Poll(pollFds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			return nil, &TransportError{Op: "poll", Err: err}
		}

		// Quiet socket: the response is complete.
		if n == 0 {
			return buf, nil
		}

		// Hangup or error without pending data also ends the message.
		if pollFds[0].Revents&unix.POLLIN == 0 {
			return buf, nil
		}

		nread, err := unix.Read(c.fd, chunk)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}

			return nil, &TransportError{Op: "read", Err: err}
		}

		if nread == 0 {
			return buf, nil
		}

		if len(buf)+nread > max {
			return nil, ErrResponseTooLarge
		}

		buf = append(buf, chunk[:nread]...)
	}
}

// send writes the command in a single write call.
func (c *Client) send(cmd string) error {
	n, err := unix.Write(c.fd, []byte(cmd))
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	if n != len(cmd) {
		return ErrShortWrite
	}

	return nil
}

// exchange performs one synchronous command/response round trip.
func (c *Client) exchange(cmd string, max int) ([]byte, error) {
	err := c.send(cmd)
	if err != nil {
		return nil, err
	}

	resp, err := c.drain(max)
	if err != nil {
		return nil, err
	}

	if len(resp) == 0 {
		return nil, ErrEmptyResponse
	}

	return resp, nil
}

// Registers fetches IDTR, CR3 and CR4 from the guest vCPU via the "info
// registers" monitor command.
func (c *Client) Registers() (RegisterSet, error) {
	resp, err := c.exchange(registersCommand, registersMaxSize)
	if err != nil {
		return RegisterSet{}, err
	}

	return ParseRegisters(resp)
}

// ReadSegment reads len(buf) bytes of guest physical memory at addr via a
// single "xp" exchange. len(buf) must be in (0, SegmentSize]. Either buf is
// filled completely or an error is returned.
func (c *Client) ReadSegment(addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, ErrZeroLength
	}

	if len(buf) > SegmentSize {
		return 0, ErrSegmentTooLarge
	}

	cmd := fmt.Sprintf(memoryCommandFmt, len(buf), addr)

	resp, err := c.exchange(cmd, readChunkSize+8*len(buf))
	if err != nil {
		return 0, err
	}

	data, err := ParseMemoryDump(resp, len(buf))
	if err != nil {
		return 0, err
	}

	if len(data) != len(buf) {
		return 0, ErrDumpTruncated
	}

	return copy(buf, data), nil
}

// Close closes the monitor socket. Closing twice is a no-op.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}

	c.closed = true

	err := unix.Close(c.fd)
	if err != nil {
		return &TransportError{Op: "close", Err: err}
	}

	return nil
}
