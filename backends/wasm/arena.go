package wasm

import (
	"encoding/binary"
)

// arena scopes the scratch allocations of one boundary call. Every alloc is
// recorded and released together when the scope closes, so no exit path --
// success, thrown error, or panic -- can leak backend memory. This replaces
// manual offset arithmetic over the linear memory with typed writes.
type arena struct {
	inst   Instance
	blocks []uint32
}

// withArena runs fn inside a fresh scratch scope. Release happens on every
// exit path, in reverse allocation order.
func withArena(inst Instance, fn func(a *arena)) {
	a := &arena{inst: inst}
	defer a.release()
	fn(a)
}

func (a *arena) release() {
	for i := len(a.blocks) - 1; i >= 0; i-- {
		a.inst.Free(a.blocks[i])
	}
	a.blocks = nil
}

// alloc reserves n bytes of scratch, rounded up to 32-bit alignment.
func (a *arena) alloc(n uint32) uint32 {
	n = (n + 3) &^ 3
	if n == 0 {
		n = 4
	}
	ptr, err := a.inst.Alloc(n)
	if err != nil {
		panic(Marshalingf("alloc", "%d bytes of scratch: %v", n, err))
	}
	a.blocks = append(a.blocks, ptr)
	return ptr
}

// writeBytes allocates scratch holding a copy of b.
func (a *arena) writeBytes(b []byte) uint32 {
	ptr := a.alloc(uint32(len(b)))
	copy(a.inst.Memory()[ptr:], b)
	return ptr
}

// writeUint32s allocates scratch holding v as little-endian 32-bit words.
func (a *arena) writeUint32s(v []uint32) uint32 {
	ptr := a.alloc(uint32(len(v) * 4))
	mem := a.inst.Memory()
	for i, x := range v {
		binary.LittleEndian.PutUint32(mem[ptr+uint32(i*4):], x)
	}
	return ptr
}

// putUint32 writes one word at an absolute offset.
func (a *arena) putUint32(ptr uint32, v uint32) {
	binary.LittleEndian.PutUint32(a.inst.Memory()[ptr:], v)
}

// readUint32 reads one word at an absolute offset.
func readUint32(inst Instance, ptr uint32) uint32 {
	return binary.LittleEndian.Uint32(inst.Memory()[ptr:])
}

// readCString reads a NUL-terminated string at an absolute offset.
func readCString(inst Instance, ptr uint32) string {
	mem := inst.Memory()
	end := ptr
	for end < uint32(len(mem)) && mem[end] != 0 {
		end++
	}
	return string(mem[ptr:end])
}
