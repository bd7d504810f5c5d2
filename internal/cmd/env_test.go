// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvArgs(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		expected []string
	}{
		{
			name: "empty",
		},
		{
			name:     "single",
			env:      "-debug",
			expected: []string{"-debug"},
		},
		{
			name:     "multiple",
			env:      "-mode file -debug",
			expected: []string{"-mode", "file", "-debug"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GUESTMEM_ARGS", tt.env)

			assert.Equal(t, tt.expected, EnvArgs())
		})
	}
}

func TestLocalConfigArgs(t *testing.T) {
	t.Setenv("GUESTMEM_TEST_SOCKET", "/run/qmp.sock")

	tests := []struct {
		name     string
		fsys     fstest.MapFS
		expected []string
	}{
		{
			name: "missing file",
			fsys: fstest.MapFS{},
		},
		{
			name: "args and expansion",
			fsys: fstest.MapFS{
				localConfigFile: &fstest.MapFile{
					Data: []byte(
						"-socket\n${GUESTMEM_TEST_SOCKET}\n\n-debug\n",
					),
				},
			},
			expected: []string{"-socket", "/run/qmp.sock", "-debug"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual, err := LocalConfigArgs(tt.fsys, localConfigFile)
			require.NoError(t, err)

			assert.Equal(t, tt.expected, actual)
		})
	}
}

func TestMergedArgs(t *testing.T) {
	t.Setenv("GUESTMEM_ARGS", "-debug")

	fsys := fstest.MapFS{
		localConfigFile: &fstest.MapFile{
			Data: []byte("-mode\nfile\n"),
		},
	}

	actual, err := MergedArgs(
		[]string{name, "regs"}, fsys, localConfigFile)
	require.NoError(t, err)

	expected := []string{name, "-debug", "-mode", "file", "regs"}
	assert.Equal(t, expected, actual)
}
