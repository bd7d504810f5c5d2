// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// EnvArgs returns guestmem arguments from the environment.
func EnvArgs() []string {
	return strings.Fields(os.Getenv("GUESTMEM_ARGS"))
}

// LocalConfigArgs returns guestmem arguments from a local config file.
//
// The file's format is one argument per line. Environment variables may be
// used and are expanded with [os.ExpandEnv]. A missing file is not an error.
func LocalConfigArgs(fsys fs.FS, file string) ([]string, error) {
	conf, err := fs.ReadFile(fsys, file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read file: %w", err)
	}

	args := []string{}

	expandedConf := os.ExpandEnv(string(conf))
	for _, line := range strings.Split(expandedConf, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			args = append(args, line)
		}
	}

	return args, nil
}

// MergedArgs prepends environment and local config file arguments to the
// given command line, keeping the program name first. Arguments given on the
// actual command line win, since they are parsed last.
func MergedArgs(args []string, fsys fs.FS, file string) ([]string, error) {
	fileArgs, err := LocalConfigArgs(fsys, file)
	if err != nil {
		return nil, err
	}

	merged := make([]string, 0, len(args)+len(fileArgs))
	merged = append(merged, args[0])
	merged = append(merged, EnvArgs()...)
	merged = append(merged, fileArgs...)
	merged = append(merged, args[1:]...)

	return merged, nil
}
