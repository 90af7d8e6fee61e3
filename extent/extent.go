/*
 * Copyright 2024 gcmalloc Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package extent implements Extent, the descriptor for one live
// allocation: either a small-object slab over a single page, or a
// multi-page run with no slot subdivision. Its packed bit-field word is
// grounded on the footer-word packing in the teacher's mempool package
// (magic/index bits sharing one uint64 via mask-and-shift).
package extent

import (
	"github.com/cwmem/gcmalloc/bitmap"
	"github.com/cwmem/gcmalloc/block"
	"github.com/cwmem/gcmalloc/contract"
	"github.com/cwmem/gcmalloc/gcconst"
	"github.com/cwmem/gcmalloc/sizeclass"
)

// Bit layout of Extent.bits, chosen to be non-overlapping (spec §9
// requires the layout to be stable for masked-shift access, but leaves
// the exact ranges to the implementation so long as isSlab is 1 bit,
// arenaIndex is <=22 bits, freeSlots is 10 bits and sizeClass is 6 bits):
//
//	bit    0       isSlab
//	bits   1-22    arenaIndex (22 bits)
//	bits  23-32    freeSlots  (10 bits)
//	bits  33-38    sizeClass  (6 bits)
const (
	isSlabShift = 0
	isSlabMask  = uint64(1) << isSlabShift

	arenaIndexShift = 1
	arenaIndexMask  = uint64(1)<<gcconst.ArenaIndexBits - 1

	freeSlotsShift = arenaIndexShift + gcconst.ArenaIndexBits
	freeSlotsBits  = 10
	freeSlotsMask  = uint64(1)<<freeSlotsBits - 1

	sizeClassShift = freeSlotsShift + freeSlotsBits
	sizeClassBits  = 6
	sizeClassMask  = uint64(1)<<sizeClassBits - 1
)

// Extent describes one live allocation. The zero value is not valid;
// obtain one via InitSlab or InitLarge against memory supplied by a
// metadata-slot provider, matching the source's in-place at(...) idiom.
//
// An Extent is larger than gcconst.ExtentAlign (slabData alone fills 64
// bytes), and nothing checks the two against each other: gcmalloc.System
// allocates Extent values on the Go heap with new rather than placing one
// at a slot's raw address (see DESIGN.md), so no code path relies on an
// Extent fitting in an ExtentAlign-sized slot.
type Extent struct {
	addr       uintptr
	size       uintptr
	generation uint32
	hpd        *block.Descriptor // pointer-equality only, not ownership

	bits uint64

	slabData bitmap.Bitmap // meaningful only when IsSlab()
}

// InitSlab writes a slab-form Extent in place: isSlab=true, freeSlots
// initialized from the size class's slot count, slabData zeroed.
func InitSlab(e *Extent, addr, size uintptr, hpd *block.Descriptor, generation uint32, arenaIndex uint32, class uint8) {
	contract.Check(uint64(arenaIndex) <= arenaIndexMask, "extent: arenaIndex exceeds the packed field width")
	info := sizeclass.Lookup(class)

	*e = Extent{
		addr:       addr,
		size:       size,
		generation: generation,
		hpd:        hpd,
	}
	e.bits = packBits(true, arenaIndex, uint32(info.Slots), class)
}

// InitLarge writes a large-form Extent in place: isSlab=false, no slab
// bookkeeping.
func InitLarge(e *Extent, addr, size uintptr, hpd *block.Descriptor, generation uint32, arenaIndex uint32) {
	contract.Check(uint64(arenaIndex) <= arenaIndexMask, "extent: arenaIndex exceeds the packed field width")

	*e = Extent{
		addr:       addr,
		size:       size,
		generation: generation,
		hpd:        hpd,
	}
	e.bits = packBits(false, arenaIndex, 0, 0)
}

func packBits(isSlab bool, arenaIndex, freeSlots uint32, class uint8) uint64 {
	var b uint64
	if isSlab {
		b |= isSlabMask
	}
	b |= (uint64(arenaIndex) & arenaIndexMask) << arenaIndexShift
	b |= (uint64(freeSlots) & freeSlotsMask) << freeSlotsShift
	b |= (uint64(class) & sizeClassMask) << sizeClassShift
	return b
}

// Addr returns the page-aligned base address of the described allocation.
func (e *Extent) Addr() uintptr { return e.addr }

// Size returns the byte length of the described allocation.
func (e *Extent) Size() uintptr { return e.size }

// Generation returns the value copied from the metadata slot at Init time.
func (e *Extent) Generation() uint32 { return e.generation }

// BlockDescriptor returns the owning block, for pointer-equality
// comparisons only; the Extent does not own it.
func (e *Extent) BlockDescriptor() *block.Descriptor { return e.hpd }

// IsSlab reports whether this Extent subdivides its page into slots.
func (e *Extent) IsSlab() bool { return e.bits&isSlabMask != 0 }

// ArenaIndex returns the owning arena's index.
func (e *Extent) ArenaIndex() uint32 {
	return uint32((e.bits >> arenaIndexShift) & arenaIndexMask)
}

// ContainsPointers reports whether the arena holding this Extent stores
// pointer-bearing memory, by convention the odd-numbered arenas.
func (e *Extent) ContainsPointers() bool {
	return e.ArenaIndex()&gcconst.ArenaMask != 0
}

// FreeSlots returns the number of unused slots; meaningful only when IsSlab.
func (e *Extent) FreeSlots() int {
	return int((e.bits >> freeSlotsShift) & freeSlotsMask)
}

func (e *Extent) setFreeSlots(n int) {
	e.bits &^= freeSlotsMask << freeSlotsShift
	e.bits |= (uint64(n) & freeSlotsMask) << freeSlotsShift
}

// SizeClass returns the slab size class; meaningful only when IsSlab.
func (e *Extent) SizeClass() uint8 {
	return uint8((e.bits >> sizeClassShift) & sizeClassMask)
}

// Allocate claims the least free slot in a slab Extent and returns its
// index.
//
// Pre: IsSlab() && FreeSlots() > 0.
func (e *Extent) Allocate() int {
	contract.Check(e.IsSlab(), "extent: Allocate requires a slab extent")
	contract.Check(e.FreeSlots() > 0, "extent: Allocate requires FreeSlots > 0")

	slot := e.slabData.SetFirst()
	e.setFreeSlots(e.FreeSlots() - 1)
	return slot
}

// Free releases a previously allocated slot.
//
// Pre: IsSlab() && the slot at slotIndex is currently allocated.
func (e *Extent) Free(slotIndex int) {
	contract.Check(e.IsSlab(), "extent: Free requires a slab extent")
	contract.Check(e.slabData.ValueAt(slotIndex), "extent: Free requires an allocated slot")

	e.slabData.ClearRange(slotIndex, 1)
	e.setFreeSlots(e.FreeSlots() + 1)
}

// Contains reports whether ptr falls within this Extent's half-open
// address range.
func (e *Extent) Contains(ptr uintptr) bool {
	return ptr >= e.addr && ptr < e.addr+e.size
}
