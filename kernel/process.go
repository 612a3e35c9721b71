// File: kernel/process.go
// Package kernel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-side resources the scheduler core needs: the memory collaborator
// and the thread-local-storage slot allocator. TLS occupancy is a bitmap
// of bitmaps, one 8-slot byte per mapped page; the whole structure is
// owned by the process and mutated only under the kernel lock.

package kernel

import "github.com/momentics/emukern/api"

// TLS geometry of the emulated guest.
const (
	PageSize        = 0x1000
	TLSEntrySize    = 0x200
	TLSSlotsPerPage = PageSize / TLSEntrySize

	// TLSAreaVAddr is the base of the thread-local-storage region.
	TLSAreaVAddr api.VAddr = 0x1_0000_0000

	pageFull = 1<<TLSSlotsPerPage - 1
)

// Process owns guest threads and their TLS slots.
type Process struct {
	kernel *System
	name   string
	memory api.Memory

	// tlsSlots holds one occupancy bitset per allocated TLS page.
	tlsSlots []uint8
}

// NewProcess creates a process backed by the given memory collaborator.
func (k *System) NewProcess(name string, memory api.Memory) *Process {
	return &Process{kernel: k, name: name, memory: memory}
}

// Name returns the process debug name.
func (p *Process) Name() string { return p.name }

// allocateTLSSlot finds the first free slot across allocated pages, mapping
// a fresh page when every existing one is full. Returns the slot's address.
func (p *Process) allocateTLSSlot() (api.VAddr, error) {
	for page, slots := range p.tlsSlots {
		if slots == pageFull {
			continue
		}
		for slot := 0; slot < TLSSlotsPerPage; slot++ {
			if slots&(1<<slot) == 0 {
				p.tlsSlots[page] |= 1 << slot
				return tlsSlotAddress(page, slot), nil
			}
		}
	}

	// All pages full: map a new one and take its first slot.
	page := len(p.tlsSlots)
	if err := p.memory.MapTLSPage(TLSAreaVAddr + api.VAddr(page)*PageSize); err != nil {
		return 0, err
	}
	p.tlsSlots = append(p.tlsSlots, 1)
	return tlsSlotAddress(page, 0), nil
}

// freeTLSSlot marks the slot at addr free again, handing trailing pages
// with no live slots back to the memory collaborator.
func (p *Process) freeTLSSlot(addr api.VAddr) {
	offset := addr - TLSAreaVAddr
	page := int(offset / PageSize)
	slot := int(offset % PageSize / TLSEntrySize)
	assertf(page < len(p.tlsSlots), "TLS address %#x outside allocated pages", addr)
	p.tlsSlots[page] &^= 1 << slot

	for n := len(p.tlsSlots); n > 0 && p.tlsSlots[n-1] == 0; n = len(p.tlsSlots) {
		base := TLSAreaVAddr + api.VAddr(n-1)*PageSize
		if err := p.memory.UnmapTLSPage(base); err != nil {
			p.kernel.log.Printf("process %s: unmap TLS page %#x: %v", p.name, base, err)
			return
		}
		p.tlsSlots = p.tlsSlots[:n-1]
	}
}

func tlsSlotAddress(page, slot int) api.VAddr {
	return TLSAreaVAddr + api.VAddr(page)*PageSize + api.VAddr(slot)*TLSEntrySize
}
