// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package guest

import "errors"

var (
	// ErrAccessModeInvalid is returned if an access mode is unknown.
	ErrAccessModeInvalid = errors.New("unknown access mode")

	// ErrEmptyTarget is returned if the backend target string is empty.
	ErrEmptyTarget = errors.New("backend target must not be empty")

	// ErrRegistersUnavailable is returned by backends that cannot provide
	// register state, such as a flat memory image.
	ErrRegistersUnavailable = errors.New("backend cannot provide registers")
)
