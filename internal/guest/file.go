// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package guest

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/guestmem/guestmem/internal/qmp"
)

// fileBackend serves reads from a flat physical memory image. Offsets into
// the image are physical addresses.
type fileBackend struct {
	file *os.File
}

func newFileBackend(path string) (*fileBackend, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open memory image: %w", err)
	}

	return &fileBackend{file: file}, nil
}

// Registers always fails; a flat image carries no vCPU state.
func (b *fileBackend) Registers() (qmp.RegisterSet, error) {
	return qmp.RegisterSet{}, ErrRegistersUnavailable
}

// ReadSegment reads from the image at the physical offset. Running past the
// end of the image delivers the bytes that exist, which the caller sees as a
// soft truncation instead of an error.
func (b *fileBackend) ReadSegment(addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, qmp.ErrZeroLength
	}

	if len(buf) > qmp.SegmentSize {
		return 0, qmp.ErrSegmentTooLarge
	}

	n, err := b.file.ReadAt(buf, int64(addr))
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read memory image: %w", err)
	}

	return n, nil
}

func (b *fileBackend) Close() error {
	return b.file.Close()
}
