// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/guestmem/guestmem/internal/guest"
)

// LoadLayout reads a kernel memory layout profile from a YAML file. Keys are
// direct_map_base, page_offset and phys_base; values may be hexadecimal.
// Missing keys keep their defaults.
func LoadLayout(path string) (guest.Layout, error) {
	layout := guest.DefaultLayout()

	data, err := os.ReadFile(path)
	if err != nil {
		return layout, fmt.Errorf("read layout profile: %w", err)
	}

	err = yaml.Unmarshal(data, &layout)
	if err != nil {
		return layout, fmt.Errorf("parse layout profile: %w", err)
	}

	return layout, nil
}
