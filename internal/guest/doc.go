// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package guest provides uniform access to the physical memory and control
// registers of a running (or dumped) virtual machine.
//
// A [Guest] is opened with one of three access modes: direct QMP socket,
// management library, or flat memory image file. The handle is owned by the
// caller; multiple independent handles may exist. A handle is not safe for
// concurrent use, since the underlying monitor protocol cannot correlate
// out-of-order responses.
package guest
