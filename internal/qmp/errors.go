// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qmp

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPath is returned if the monitor socket path is empty.
	ErrEmptyPath = errors.New("socket path must not be empty")

	// ErrGreetingMissing is returned if the peer does not open the session
	// with the QMP greeting.
	ErrGreetingMissing = errors.New("monitor did not send QMP greeting")

	// ErrCapabilitiesRejected is returned if capabilities negotiation is not
	// acknowledged with the expected reply.
	ErrCapabilitiesRejected = errors.New("capabilities negotiation rejected")

	// ErrShortWrite is returned if a command could not be written completely.
	ErrShortWrite = errors.New("short write to monitor")

	// ErrEmptyResponse is returned if the monitor sent no bytes for a
	// command.
	ErrEmptyResponse = errors.New("monitor sent no response")

	// ErrResponseTooLarge is returned if a response exceeds the maximum
	// accumulated size (see [WithMaxResponseSize]).
	ErrResponseTooLarge = errors.New("response exceeds maximum size")

	// ErrReturnMarkerMissing is returned if a memory dump response does not
	// contain the expected return marker.
	ErrReturnMarkerMissing = errors.New("return marker not found in response")

	// ErrDumpLineTooLong is returned if a single memory dump line exceeds the
	// line buffer instead of truncating it silently.
	ErrDumpLineTooLong = errors.New("memory dump line exceeds line buffer")

	// ErrDumpTruncated is returned if the monitor dumped fewer bytes than
	// requested.
	ErrDumpTruncated = errors.New("memory dump shorter than requested")

	// ErrZeroLength is returned for zero-length memory reads. The policy is
	// uniform across all backends.
	ErrZeroLength = errors.New("memory read length must not be zero")

	// ErrSegmentTooLarge is returned if a single-segment read exceeds
	// [SegmentSize].
	ErrSegmentTooLarge = errors.New("segment exceeds maximum segment size")
)

// ConnectError wraps failures to establish the monitor connection.
type ConnectError struct {
	Path string
	Err  error
}

// Error implements the [error] interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Path, e.Err)
}

// Is implements the [errors.Is] interface.
func (*ConnectError) Is(other error) bool {
	_, ok := other.(*ConnectError)
	return ok
}

// Unwrap implements the [errors.Unwrap] interface.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TransportError wraps I/O failures in the middle of an exchange.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the [error] interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("monitor %s: %v", e.Op, e.Err)
}

// Is implements the [errors.Is] interface.
func (*TransportError) Is(other error) bool {
	_, ok := other.(*TransportError)
	return ok
}

// Unwrap implements the [errors.Unwrap] interface.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// MissingRegisterError is returned by [ParseRegisters] if a required register
// label is not present in the monitor output. It names the first missing
// register only.
type MissingRegisterError struct {
	Name string
}

// Error implements the [error] interface.
func (e *MissingRegisterError) Error() string {
	return "register " + e.Name + " not found in monitor output"
}

// Is implements the [errors.Is] interface.
func (*MissingRegisterError) Is(other error) bool {
	_, ok := other.(*MissingRegisterError)
	return ok
}
