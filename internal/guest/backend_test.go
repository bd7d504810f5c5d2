// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package guest_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guestmem/guestmem/internal/guest"
	"github.com/guestmem/guestmem/internal/qmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessMode_MarshalText(t *testing.T) {
	tests := []struct {
		input       guest.AccessMode
		expected    string
		expectedErr error
	}{
		{
			input:    guest.AccessQMP,
			expected: "qmp",
		},
		{
			input:    guest.AccessLibvirt,
			expected: "libvirt",
		},
		{
			input:    guest.AccessFile,
			expected: "file",
		},
		{
			input:       guest.AccessMode(99),
			expectedErr: guest.ErrAccessModeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.input.String(), func(t *testing.T) {
			actual, err := tt.input.MarshalText()
			require.ErrorIs(t, err, tt.expectedErr)

			assert.Equal(t, tt.expected, string(actual))
		})
	}
}

func TestAccessMode_UnmarshalText(t *testing.T) {
	tests := []struct {
		input       string
		expected    guest.AccessMode
		expectedErr error
	}{
		{
			input:    "qmp",
			expected: guest.AccessQMP,
		},
		{
			input:    "libvirt",
			expected: guest.AccessLibvirt,
		},
		{
			input:    "file",
			expected: guest.AccessFile,
		},
		{
			input:       "unknown",
			expectedErr: guest.ErrAccessModeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var actual guest.AccessMode

			err := actual.UnmarshalText([]byte(tt.input))
			require.ErrorIs(t, err, tt.expectedErr)

			if tt.expectedErr == nil {
				assert.Equal(t, tt.expected, actual)
			}
		})
	}
}

func TestOpen_EmptyTarget(t *testing.T) {
	_, err := guest.Open(guest.AccessFile, "")
	require.ErrorIs(t, err, guest.ErrEmptyTarget)
}

func TestOpen_UnknownMode(t *testing.T) {
	_, err := guest.Open(guest.AccessMode(99), "target")
	require.ErrorIs(t, err, guest.ErrAccessModeInvalid)
}

func TestOpen_FileBackendMissing(t *testing.T) {
	_, err := guest.Open(guest.AccessFile,
		filepath.Join(t.TempDir(), "absent.img"))
	require.Error(t, err)
}

func writeImage(t *testing.T, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "memory.img")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func imagePattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 13)
	}

	return data
}

func TestGuest_FileBackend(t *testing.T) {
	data := imagePattern(4096*2 + 512)

	g, err := guest.Open(guest.AccessFile, writeImage(t, data))
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, guest.AccessFile, g.Mode())

	t.Run("single segment", func(t *testing.T) {
		actual, err := g.ReadMemory(0x100, guest.KindPhysical, 64)
		require.NoError(t, err)
		assert.Equal(t, data[0x100:0x100+64], actual)
	})

	t.Run("multi segment equals contiguous", func(t *testing.T) {
		actual, err := g.ReadMemory(0, guest.KindPhysical, len(data))
		require.NoError(t, err)
		assert.Equal(t, data, actual)
	})

	t.Run("soft truncation at image end", func(t *testing.T) {
		actual, err := g.ReadMemory(uint64(len(data)-100),
			guest.KindPhysical, 4096)
		require.NoError(t, err)
		assert.Equal(t, data[len(data)-100:], actual)
	})

	t.Run("read past image end", func(t *testing.T) {
		actual, err := g.ReadMemory(uint64(len(data)+4096),
			guest.KindPhysical, 64)
		require.NoError(t, err)
		assert.Empty(t, actual)
	})

	t.Run("zero length rejected", func(t *testing.T) {
		_, err := g.ReadMemory(0, guest.KindPhysical, 0)
		require.ErrorIs(t, err, qmp.ErrZeroLength)
	})

	t.Run("registers unavailable", func(t *testing.T) {
		_, err := g.Registers()
		require.ErrorIs(t, err, guest.ErrRegistersUnavailable)
	})
}

func TestGuest_FileBackendVirtualAddress(t *testing.T) {
	data := imagePattern(8192)

	layout := guest.Layout{
		DirectMapBase: 0xffffffff80000000,
		PageOffset:    0xffff888000000000,
		PhysBase:      0x1000,
	}

	g, err := guest.Open(guest.AccessFile, writeImage(t, data),
		guest.WithLayout(layout))
	require.NoError(t, err)
	defer g.Close()

	// 0xffffffff80000200 -> 0x1000 + 0x200
	actual, err := g.ReadMemory(0xffffffff80000200, guest.KindVirtual, 32)
	require.NoError(t, err)
	assert.Equal(t, data[0x1200:0x1200+32], actual)
}

func TestGuest_CloseIdempotent(t *testing.T) {
	g, err := guest.Open(guest.AccessFile, writeImage(t, imagePattern(16)))
	require.NoError(t, err)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
}

func TestGuest_QMPBackend(t *testing.T) {
	greeting := `{"QMP": {"version": {}, "capabilities": []}}` + "\r\n"

	script := []qmp.ScriptStep{
		{
			Expect:   `{ "execute": "qmp_capabilities" }`,
			Response: "{\"return\": {}}\r\n",
		},
		{
			Expect: `{"execute": "human-monitor-command",` +
				` "arguments": {"command-line": "xp /8xb 0x1000"}}`,
			Response: `{"return": "0000000000001000:` +
				` 0x10 0x11 0x12 0x13 0x14 0x15 0x16 0x17\r\n"}` + "\r\n",
		},
	}

	monitor, err := qmp.StartFakeMonitor(t.TempDir(), greeting, script)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, monitor.Close())
	})

	g, err := guest.Open(guest.AccessQMP, monitor.Path(),
		guest.WithQMPOptions(qmp.WithIdleTimeout(250*time.Millisecond)))
	require.NoError(t, err)
	defer g.Close()

	actual, err := g.ReadMemory(0x1000, guest.KindPhysical, 8)
	require.NoError(t, err)

	expected := []byte{0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17}
	assert.Equal(t, expected, actual)
}
