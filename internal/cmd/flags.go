// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"flag"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/guestmem/guestmem/internal/guest"
)

const (
	name = "guestmem"

	localConfigFile = ".guestmem-args"

	opRegs = "regs"
	opRead = "read"
	opDump = "dump"

	// Upper bound for a single read or dump request.
	maxReadLength = 1 << 30

	usageMessage = `Usage of 'guestmem':
    guestmem [flags...] regs
    guestmem [flags...] read <address> <length>
    guestmem [flags...] dump <address> <length>

Reads physical memory and control registers (IDTR, CR3, CR4) from a running
virtual machine.

Select the acquisition backend with -mode:
    qmp      talk to the QEMU monitor socket given by -socket
    libvirt  tunnel monitor commands to the domain given by -domain
    file     read from the flat memory image given by -memfile

Addresses are hexadecimal, with or without 0x prefix. With -virtual they are
treated as kernel virtual addresses and translated using the layout profile
(see -layout).

"read" prints a hexdump to stdout or writes raw bytes to -out. "dump" writes
raw bytes to -out (required) and shows progress on stderr.

All guestmem flags can also be provided via environment variable
GUESTMEM_ARGS or via file ./.guestmem-args, one argument per line.
`
)

type flags struct {
	flagSet *flag.FlagSet

	mode       guest.AccessMode
	socket     FilePath
	domain     string
	memFile    FilePath
	connectURI string
	layoutFile FilePath
	outFile    string
	virtual    bool
	debug      bool
	version    bool

	op      string
	address uint64
	length  uint64
}

func newFlags(output io.Writer) *flags {
	flags := &flags{
		mode: guest.AccessQMP,
	}

	flags.initFlagset(output)

	return flags
}

func (f *flags) initFlagset(output io.Writer) {
	flagSet := flag.NewFlagSet(name, flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = f.usage

	flagSet.TextVar(
		&f.mode,
		"mode",
		&f.mode,
		"acquisition backend: qmp, libvirt, file",
	)

	flagSet.Var(
		&f.socket,
		"socket",
		"path to the QEMU monitor unix socket (mode qmp)",
	)

	flagSet.StringVar(
		&f.domain,
		"domain",
		f.domain,
		"name of the libvirt domain (mode libvirt)",
	)

	flagSet.Var(
		&f.memFile,
		"memfile",
		"path to a flat physical memory image (mode file)",
	)

	flagSet.StringVar(
		&f.connectURI,
		"connect",
		f.connectURI,
		"libvirt connection URI (default qemu:///system)",
	)

	flagSet.Var(
		&f.layoutFile,
		"layout",
		"YAML kernel memory layout profile for virtual address translation",
	)

	flagSet.StringVar(
		&f.outFile,
		"out",
		f.outFile,
		"write raw bytes to this file instead of stdout",
	)

	flagSet.BoolVar(
		&f.virtual,
		"virtual",
		f.virtual,
		"treat addresses as kernel virtual addresses",
	)

	flagSet.BoolVar(
		&f.debug,
		"debug",
		f.debug,
		"enable debug output",
	)

	flagSet.BoolVar(
		&f.version,
		"version",
		f.version,
		"show version and exit",
	)

	f.flagSet = flagSet
}

func parseArgs(args []string, output io.Writer) (*flags, error) {
	flags := newFlags(output)

	err := flags.ParseArgs(args[1:])
	if err != nil {
		return nil, err
	}

	return flags, nil
}

func (f *flags) ParseArgs(args []string) error {
	err := f.flagSet.Parse(args)
	if err != nil {
		return &ParseArgsError{msg: "flag parse", err: err}
	}

	// With version flag, just print the version and exit. Using [ErrHelp]
	// the main binary is supposed to return with a non error exit code.
	if f.version {
		err := f.printVersionInformation()
		return &ParseArgsError{msg: "version requested", err: err}
	}

	err = f.parseOperation(f.flagSet.Args())
	if err != nil {
		return err
	}

	return f.validateTarget()
}

func (f *flags) parseOperation(args []string) error {
	if len(args) < 1 {
		return f.fail("no operation given (regs, read, dump)", nil)
	}

	f.op = args[0]

	switch f.op {
	case opRegs:
		if len(args) != 1 {
			return f.fail("regs takes no arguments", nil)
		}

		return nil
	case opRead, opDump:
		if len(args) != 3 {
			return f.fail(f.op+" requires <address> <length>", nil)
		}

		if f.op == opDump && f.outFile == "" {
			return f.fail("dump requires -out", nil)
		}

		return f.parseReadArgs(args[1], args[2])
	}

	return f.fail("unknown operation: "+f.op, nil)
}

func (f *flags) parseReadArgs(addrArg, lengthArg string) error {
	address, err := parseAddress(addrArg)
	if err != nil {
		return f.fail("address", err)
	}

	length, err := strconv.ParseUint(lengthArg, 0, 64)
	if err != nil {
		return f.fail("length", err)
	}

	if length == 0 || length > maxReadLength {
		return f.fail(
			fmt.Sprintf("length must be in [1, %d]", maxReadLength), nil)
	}

	f.address = address
	f.length = length

	return nil
}

func (f *flags) validateTarget() error {
	switch f.mode {
	case guest.AccessQMP:
		if f.socket == "" {
			return f.fail("no monitor socket given (use -socket)", nil)
		}
	case guest.AccessLibvirt:
		if f.domain == "" {
			return f.fail("no domain given (use -domain)", nil)
		}
	case guest.AccessFile:
		if f.memFile == "" {
			return f.fail("no memory image given (use -memfile)", nil)
		}

		err := ValidateFilePath(string(f.memFile))
		if err != nil {
			return f.fail("memory image", err)
		}
	}

	if f.layoutFile != "" {
		err := ValidateFilePath(string(f.layoutFile))
		if err != nil {
			return f.fail("layout profile", err)
		}
	}

	return nil
}

// target returns the backend target string for the selected mode.
func (f *flags) target() string {
	switch f.mode {
	case guest.AccessQMP:
		return string(f.socket)
	case guest.AccessLibvirt:
		return f.domain
	case guest.AccessFile:
		return string(f.memFile)
	}

	return ""
}

func (f *flags) addrKind() guest.AddrKind {
	if f.virtual {
		return guest.KindVirtual
	}

	return guest.KindPhysical
}

// parseAddress parses a hexadecimal address with optional 0x prefix.
func parseAddress(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")

	value, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse: %w", err)
	}

	return value, nil
}

// fail fails like flag does. It prints the error first and then usage.
func (f *flags) fail(msg string, err error) error {
	err = &ParseArgsError{msg: msg, err: err}
	fmt.Fprintln(f.flagSet.Output(), err.Error())

	f.flagSet.Usage()

	return err
}

func (f *flags) printVersionInformation() error {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return ErrReadBuildInfo
	}

	fmt.Fprintf(f.flagSet.Output(), "Version: %s\n", buildInfo.Main.Version)

	return ErrHelp
}

func (f *flags) usage() {
	fmt.Fprint(f.flagSet.Output(), usageMessage)
	fmt.Fprintln(f.flagSet.Output(), "\nFlags:")
	f.flagSet.PrintDefaults()
}
