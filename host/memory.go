// Package host provides the seams a program embedding this runtime
// implements: memory access, file loading, native function registration and
// diagnostics reporting (§6, "External interfaces").
package host

import (
	"encoding/binary"
	"fmt"

	"github.com/vinegar97/sonic3air/vm"
)

// MemoryAccess is an alias of vm.MemoryAccess: the interface is declared in
// the vm package (the one that actually calls it) so this package can
// depend on vm without vm needing to depend on host.
type MemoryAccess = vm.MemoryAccess

// FlatMemory is a MemoryAccess backed by a single contiguous byte buffer,
// grounded on the reference toolchain's little-endian cell load/save
// routines (vm/mem.go's load32/load64), generalized from fixed-width cells
// to the per-access bit width READ_MEMORY/WRITE_MEMORY carries.
type FlatMemory struct {
	buf []byte
}

// NewFlatMemory returns a FlatMemory of the given size, zero-initialized.
func NewFlatMemory(size int) *FlatMemory {
	return &FlatMemory{buf: make([]byte, size)}
}

// Bytes exposes the backing buffer, e.g. for snapshotting alongside a
// vm.Snapshot.
func (m *FlatMemory) Bytes() []byte { return m.buf }

func (m *FlatMemory) bounds(addr uint32, bytes int) error {
	if int(addr)+bytes > len(m.buf) {
		return fmt.Errorf("address %#x+%d bytes out of range (size %d)", addr, bytes, len(m.buf))
	}
	return nil
}

// ReadMemory reads a bits-wide value at addr, sign-extending to 64 bits if
// signed is set (§6, "Memory access handler").
func (m *FlatMemory) ReadMemory(addr uint32, bits uint8, signed bool) (uint64, error) {
	n := int(bits) / 8
	if n == 0 {
		n = 1
	}
	if err := m.bounds(addr, n); err != nil {
		return 0, err
	}
	var v uint64
	switch n {
	case 1:
		v = uint64(m.buf[addr])
	case 2:
		v = uint64(binary.LittleEndian.Uint16(m.buf[addr:]))
	case 4:
		v = uint64(binary.LittleEndian.Uint32(m.buf[addr:]))
	case 8:
		v = binary.LittleEndian.Uint64(m.buf[addr:])
	default:
		return 0, fmt.Errorf("unsupported access width %d bits", bits)
	}
	if signed && bits < 64 {
		shift := 64 - bits
		v = uint64(int64(v<<shift) >> shift)
	}
	return v, nil
}

// WriteMemory writes the low bits of value at addr.
func (m *FlatMemory) WriteMemory(addr uint32, bits uint8, value uint64) error {
	n := int(bits) / 8
	if n == 0 {
		n = 1
	}
	if err := m.bounds(addr, n); err != nil {
		return err
	}
	switch n {
	case 1:
		m.buf[addr] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(m.buf[addr:], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(m.buf[addr:], uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(m.buf[addr:], value)
	default:
		return fmt.Errorf("unsupported access width %d bits", bits)
	}
	return nil
}
