// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cmd provides the CLI command entry point for guestmem. It handles
// flag parsing, error handling, and output handling.
package cmd
