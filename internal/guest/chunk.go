// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package guest

import "github.com/guestmem/guestmem/internal/qmp"

// segmentFunc reads one bounded segment at addr into buf.
type segmentFunc func(addr uint64, buf []byte) (int, error)

// readChunked fills buf from consecutive segments of at most
// [qmp.SegmentSize] bytes, one call to read per segment, in strictly
// increasing address order. The first failing segment aborts the whole read
// with its error; bytes written by earlier segments are left in buf but must
// not be considered valid by the caller. A segment delivering fewer bytes
// than requested ends the read early, which only the file backend does.
func readChunked(read segmentFunc, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, qmp.ErrZeroLength
	}

	total := 0

	for total < len(buf) {
		segment := buf[total:]
		if len(segment) > qmp.SegmentSize {
			segment = segment[:qmp.SegmentSize]
		}

		n, err := read(addr+uint64(total), segment)
		if err != nil {
			return 0, err
		}

		total += n

		if n < len(segment) {
			break
		}
	}

	return total, nil
}
