// SPDX-FileCopyrightText: 2024 The guestmem authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package guest

// Defaults for the x86-64 kernel virtual memory layout. DirectMapBase is the
// kernel text mapping base (__START_KERNEL_map); PageOffset is the base of
// the linear mapping of all physical memory with 4-level paging; PhysBase is
// the boot-time physical load address of the kernel.
const (
	DefaultDirectMapBase = 0xffffffff80000000
	DefaultPageOffset    = 0xffff888000000000
	DefaultPhysBase      = 0x0
)

// Layout holds the constants needed to turn a kernel virtual address into a
// physical one. Values depend on architecture, kernel configuration, and
// boot-time randomization, so they are injectable via a profile file.
type Layout struct {
	DirectMapBase uint64 `yaml:"direct_map_base"`
	PageOffset    uint64 `yaml:"page_offset"`
	PhysBase      uint64 `yaml:"phys_base"`
}

// DefaultLayout returns the layout of an unrandomized x86-64 kernel.
func DefaultLayout() Layout {
	return Layout{
		DirectMapBase: DefaultDirectMapBase,
		PageOffset:    DefaultPageOffset,
		PhysBase:      DefaultPhysBase,
	}
}

// ToPhysical converts addr to a physical address. Physical addresses pass
// through unchanged. Virtual addresses at or above the kernel text mapping
// base are offset by PhysBase; everything else is assumed to live in the
// linear mapping.
func (l Layout) ToPhysical(addr uint64, kind AddrKind) uint64 {
	if kind == KindPhysical {
		return addr
	}

	if addr >= l.DirectMapBase {
		return addr - l.DirectMapBase + l.PhysBase
	}

	return addr - l.PageOffset
}
