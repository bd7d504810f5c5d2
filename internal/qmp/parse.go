// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qmp

import (
	"bytes"
	"strconv"
)

const (
	returnMarker = `"return": "`

	// The monitor dumps at most eight bytes per line.
	dumpLineWidth = 8

	// Upper bound for a single accumulated dump line. Exceeding it is a
	// parse error, not silent truncation.
	dumpLineMax = 128

	maxHexDigits = 16
)

// Labels are resolved in this order. The first missing one fails the parse.
var registerLabels = []string{"CR3", "CR4", "IDT"}

// ParseRegisters extracts CR3, CR4 and IDTR from a human-monitor register
// dump such as "RAX=... CR3=0000000019872000 CR4=... IDT=...". Each label is
// located by substring search; the value must follow the "=" directly, with
// at most padding whitespace in between.
func ParseRegisters(resp []byte) (RegisterSet, error) {
	var set RegisterSet

	for _, label := range registerLabels {
		value, err := scanRegister(resp, label)
		if err != nil {
			return RegisterSet{}, err
		}

		switch label {
		case "CR3":
			set.CR3 = value
		case "CR4":
			set.CR4 = value
		case "IDT":
			set.IDTR = value
		}
	}

	return set, nil
}

func scanRegister(resp []byte, label string) (uint64, error) {
	idx := bytes.Index(resp, []byte(label))
	if idx < 0 {
		return 0, &MissingRegisterError{Name: label}
	}

	rest := resp[idx+len(label):]

	eq := bytes.IndexByte(rest, '=')
	if eq < 0 {
		return 0, &MissingRegisterError{Name: label}
	}

	rest = rest[eq+1:]

	// The monitor pads some register values with spaces after the "=".
	// Anything else in that position means the value is not there.
	start := 0
	for start < len(rest) && (rest[start] == ' ' || rest[start] == '\t') {
		start++
	}

	end := start
	for end < len(rest) && end-start < maxHexDigits && isHexDigit(rest[end]) {
		end++
	}

	if end == start {
		return 0, &MissingRegisterError{Name: label}
	}

	value, err := strconv.ParseUint(string(rest[start:end]), 16, 64)
	if err != nil {
		return 0, &MissingRegisterError{Name: label}
	}

	return value, nil
}

func isHexDigit(b byte) bool {
	switch {
	case b >= '0' && b <= '9':
		return true
	case b >= 'a' && b <= 'f':
		return true
	case b >= 'A' && b <= 'F':
		return true
	}

	return false
}

// ParseMemoryDump extracts the hex byte payload from a wrapped "xp" response.
//
// The payload is a JSON string value following the literal `"return": "`
// marker. Inside it the monitor separates dump lines with the escaped
// two-character sequence \r and pads with the escaped sequence \n, which is
// skipped. Each completed line is tokenized into up to eight 0xHH byte
// tokens; non-byte tokens such as the leading address column are skipped.
// Scanning stops at the closing quote, the end of the input, or once limit
// output bytes have been collected, whichever comes first.
func ParseMemoryDump(resp []byte, limit int) ([]byte, error) {
	idx := bytes.Index(resp, []byte(returnMarker))
	if idx < 0 {
		return nil, ErrReturnMarkerMissing
	}

	payload := resp[idx+len(returnMarker):]

	out := make([]byte, 0, limit)
	line := make([]byte, 0, dumpLineMax)

	for i := 0; i < len(payload) && len(out) < limit; i++ {
		ch := payload[i]

		if ch == '"' {
			break
		}

		if ch == '\\' && i+1 < len(payload) {
			switch payload[i+1] {
			case 'r':
				out = appendLineTokens(out, line, limit)
				line = line[:0]
				i++

				continue
			case 'n':
				i++

				continue
			}
		}

		if len(line) == dumpLineMax {
			return nil, ErrDumpLineTooLong
		}

		line = append(line, ch)
	}

	// A final line without terminator still carries tokens.
	if len(line) > 0 && len(out) < limit {
		out = appendLineTokens(out, line, limit)
	}

	return out, nil
}

// ParseMemoryText extracts hex byte tokens from an unescaped monitor dump
// with real line separators, as returned by the management library.
func ParseMemoryText(resp []byte, limit int) ([]byte, error) {
	out := make([]byte, 0, limit)

	lines := bytes.FieldsFunc(resp, func(r rune) bool {
		return r == '\r' || r == '\n'
	})

	for _, line := range lines {
		if len(out) == limit {
			break
		}

		if len(line) > dumpLineMax {
			return nil, ErrDumpLineTooLong
		}

		out = appendLineTokens(out, line, limit)
	}

	return out, nil
}

// appendLineTokens appends up to eight 0xHH tokens from one dump line.
func appendLineTokens(out, line []byte, limit int) []byte {
	tokens := 0

	for _, field := range bytes.Fields(line) {
		if tokens == dumpLineWidth || len(out) == limit {
			break
		}

		if len(field) != 4 || field[0] != '0' || field[1] != 'x' {
			continue
		}

		value, err := strconv.ParseUint(string(field[2:]), 16, 8)
		if err != nil {
			continue
		}

		out = append(out, byte(value))
		tokens++
	}

	return out
}
