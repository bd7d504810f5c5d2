// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package qmp implements a minimal client for the QEMU machine protocol on a
// unix domain socket. It speaks just enough QMP to tunnel human monitor
// commands: the greeting, the capabilities negotiation, and the
// "human-monitor-command" execution used for "info registers" and "xp" hex
// dumps.
//
// The wire protocol has no message framing. The end of a response is inferred
// from the socket going quiet for one idle window (see [WithIdleTimeout]).
// This works only because exchanges are strictly one command at a time;
// pipelined or concurrent commands are unsupported by construction. A
// [Client] must not be shared between goroutines without external
// serialization.
package qmp
