// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package guest_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/guestmem/guestmem/internal/guest"
	"github.com/guestmem/guestmem/internal/qmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession emulates the management library's monitor channel against a
// fixed memory pattern.
type fakeSession struct {
	memory    []byte
	registers string
	commands  []string
	closes    int
}

func (s *fakeSession) MonitorCommand(cmd string) (string, error) {
	s.commands = append(s.commands, cmd)

	if cmd == "info registers" {
		return s.registers, nil
	}

	var (
		count int
		addr  uint64
	)

	_, err := fmt.Sscanf(cmd, "xp /%dxb 0x%x", &count, &addr)
	if err != nil {
		return "", fmt.Errorf("unexpected command %q: %w", cmd, err)
	}

	var sb strings.Builder

	for i := 0; i < count; i += 8 {
		fmt.Fprintf(&sb, "%016x:", addr+uint64(i))

		for j := i; j < i+8 && j < count; j++ {
			fmt.Fprintf(&sb, " 0x%02x", s.memory[addr+uint64(j)])
		}

		sb.WriteString("\r\n")
	}

	return sb.String(), nil
}

func (s *fakeSession) Close() error {
	s.closes++
	return nil
}

func TestGuest_LibvirtBackend(t *testing.T) {
	session := &fakeSession{
		memory: imagePattern(4096 * 3),
		registers: "RAX=0000000000000000 CR3=0000000019872000" +
			" CR4=0000000000002668 IDT=ffffffffff528000",
	}

	g, err := guest.Open(guest.AccessLibvirt, "testdomain",
		guest.WithSession(session))
	require.NoError(t, err)

	t.Run("registers", func(t *testing.T) {
		regs, err := g.Registers()
		require.NoError(t, err)

		expected := qmp.RegisterSet{
			IDTR: 0xffffffffff528000,
			CR3:  0x19872000,
			CR4:  0x2668,
		}
		assert.Equal(t, expected, regs)
	})

	t.Run("read crossing segments", func(t *testing.T) {
		session.commands = nil

		actual, err := g.ReadMemory(0x100, guest.KindPhysical, 5000)
		require.NoError(t, err)

		assert.Equal(t, session.memory[0x100:0x100+5000], actual)
		assert.Equal(t, []string{
			"xp /4096xb 0x100",
			"xp /904xb 0x1100",
		}, session.commands)
	})

	t.Run("close releases session once", func(t *testing.T) {
		require.NoError(t, g.Close())
		require.NoError(t, g.Close())
		assert.Equal(t, 1, session.closes)
	})
}

func TestGuest_LibvirtBackendCommandError(t *testing.T) {
	errMonitor := errors.New("monitor gone")

	session := &failingSession{err: errMonitor}

	g, err := guest.Open(guest.AccessLibvirt, "testdomain",
		guest.WithSession(session))
	require.NoError(t, err)
	defer g.Close()

	_, err = g.Registers()
	require.ErrorIs(t, err, errMonitor)

	_, err = g.ReadMemory(0, guest.KindPhysical, 16)
	require.ErrorIs(t, err, errMonitor)
}

type failingSession struct {
	err error
}

func (s *failingSession) MonitorCommand(string) (string, error) {
	return "", s.err
}

func (s *failingSession) Close() error {
	return nil
}
