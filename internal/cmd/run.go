// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/guestmem/guestmem/internal/guest"
)

// Window size for dump reads. Large enough to keep the progress bar
// useful, small enough to stay responsive to cancellation.
const dumpWindowSize = 64 * 1024

// IO groups the streams the command works with.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Run is the main entry point of the guestmem binary. It is supposed to be
// called directly in the main function and its return value used as exit
// code, e.g. with [os.Exit].
func Run(ctx context.Context, args []string, cfg IO) int {
	args, err := MergedArgs(args, os.DirFS("."), localConfigFile)
	if err != nil {
		slog.Error("Failed to read local config args", "error", err)
		return -1
	}

	flags, err := parseArgs(args, cfg.Stderr)
	if err != nil {
		return handleParseArgsError(err)
	}

	setupLogging(cfg.Stderr, flags.debug)

	err = run(ctx, flags, cfg)
	if err != nil {
		slog.Error("Failed to run", "error", err)
		return -1
	}

	return 0
}

func handleParseArgsError(err error) int {
	// ParseArgs already printed the error message.
	if errors.Is(err, ErrHelp) {
		return 0
	}

	var parseArgsErr *ParseArgsError
	if errors.As(err, &parseArgsErr) {
		return -1
	}

	slog.Error("Failed to parse args", "error", err)

	return -1
}

func run(ctx context.Context, flags *flags, cfg IO) error {
	opts := []guest.Option{}

	if flags.layoutFile != "" {
		layout, err := LoadLayout(string(flags.layoutFile))
		if err != nil {
			return err
		}

		opts = append(opts, guest.WithLayout(layout))
	}

	if flags.connectURI != "" {
		opts = append(opts, guest.WithConnectURI(flags.connectURI))
	}

	g, err := guest.Open(flags.mode, flags.target(), opts...)
	if err != nil {
		return fmt.Errorf("open guest: %w", err)
	}

	defer func() {
		err := g.Close()
		if err != nil {
			slog.Warn("Failed to close guest", "error", err)
		}
	}()

	switch flags.op {
	case opRegs:
		return printRegisters(g, cfg.Stdout)
	case opRead:
		return readMemory(g, flags, cfg.Stdout)
	case opDump:
		return dumpMemory(ctx, g, flags, cfg.Stderr)
	}

	return nil
}

func printRegisters(g *guest.Guest, out io.Writer) error {
	regs, err := g.Registers()
	if err != nil {
		return fmt.Errorf("registers: %w", err)
	}

	fmt.Fprintf(out, "IDTR=%016x\n", regs.IDTR)
	fmt.Fprintf(out, "CR3=%016x\n", regs.CR3)
	fmt.Fprintf(out, "CR4=%016x\n", regs.CR4)

	return nil
}

func readMemory(g *guest.Guest, flags *flags, stdout io.Writer) error {
	data, err := g.ReadMemory(flags.address, flags.addrKind(), int(flags.length))
	if err != nil {
		return fmt.Errorf("read memory: %w", err)
	}

	if len(data) < int(flags.length) {
		slog.Warn("Read truncated",
			"requested", flags.length,
			"got", len(data),
		)
	}

	if flags.outFile != "" {
		err := os.WriteFile(flags.outFile, data, 0o644)
		if err != nil {
			return fmt.Errorf("write output file: %w", err)
		}

		return nil
	}

	dumper := hex.Dumper(stdout)

	_, err = dumper.Write(data)
	if err != nil {
		return fmt.Errorf("hexdump: %w", err)
	}

	err = dumper.Close()
	if err != nil {
		return fmt.Errorf("hexdump: %w", err)
	}

	return nil
}

func dumpMemory(
	ctx context.Context,
	g *guest.Guest,
	flags *flags,
	stderr io.Writer,
) error {
	out, err := os.Create(flags.outFile)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}

	bar := progressbar.NewOptions64(
		int64(flags.length),
		progressbar.OptionSetWriter(stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetDescription("dumping"),
		progressbar.OptionClearOnFinish(),
	)

	err = dumpWindows(ctx, g, flags, out, bar)
	if err != nil {
		_ = out.Close()
		return err
	}

	err = out.Close()
	if err != nil {
		return fmt.Errorf("close output file: %w", err)
	}

	return nil
}

func dumpWindows(
	ctx context.Context,
	g *guest.Guest,
	flags *flags,
	out io.Writer,
	bar *progressbar.ProgressBar,
) error {
	kind := flags.addrKind()

	for total := uint64(0); total < flags.length; {
		select {
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck
		default:
		}

		window := flags.length - total
		if window > dumpWindowSize {
			window = dumpWindowSize
		}

		data, err := g.ReadMemory(flags.address+total, kind, int(window))
		if err != nil {
			return fmt.Errorf("read memory at 0x%x: %w", flags.address+total, err)
		}

		_, err = out.Write(data)
		if err != nil {
			return fmt.Errorf("write output file: %w", err)
		}

		_ = bar.Add(len(data))

		total += uint64(len(data))

		if uint64(len(data)) < window {
			slog.Warn("Dump truncated",
				"requested", flags.length,
				"got", total,
			)

			return nil
		}
	}

	return nil
}
