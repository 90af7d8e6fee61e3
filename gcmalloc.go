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

// Package gcmalloc wires the block, extent, slot and sizeclass packages
// together the way an external arena would: acquire a metadata slot,
// construct a BlockDescriptor or Extent against it, and release the
// slot back to the pool once the arena retires it. None of this wiring
// is part of the allocator core itself (spec §1 places arenas one level
// up); it exists so the core's packages can be exercised end to end.
package gcmalloc

import (
	"fmt"

	"github.com/cwmem/gcmalloc/block"
	"github.com/cwmem/gcmalloc/extent"
	"github.com/cwmem/gcmalloc/gcconst"
	"github.com/cwmem/gcmalloc/slot"
)

// System owns the two metadata-slot pools a minimal arena needs: one
// for BlockDescriptors, one for Extents (spec §6's "Base/Slot" provider).
type System struct {
	descriptorSlotSize uintptr
	descriptors        *slot.Pool
	extents            *slot.Pool
}

// NewSystem creates a System. descriptorSlotSize must be a power of two
// large enough to back a block.Descriptor; the extent pool is always
// sized to gcconst.ExtentAlign, per spec §6.
func NewSystem(descriptorSlotSize uintptr, descriptorCapacity, extentCapacity int) (*System, error) {
	// block.Descriptor slots are sized independently of Extent's
	// ExtentAlign constraint: only Extent's own storage must equal its
	// alignment (spec §3, "Total Extent size is a compile-time constant
	// equal to its required alignment").
	dp, err := slot.NewPool(descriptorSlotSize, descriptorCapacity)
	if err != nil {
		return nil, fmt.Errorf("gcmalloc: descriptor pool: %w", err)
	}
	ep, err := slot.NewPool(gcconst.ExtentAlign, extentCapacity)
	if err != nil {
		return nil, fmt.Errorf("gcmalloc: extent pool: %w", err)
	}
	return &System{descriptorSlotSize: descriptorSlotSize, descriptors: dp, extents: ep}, nil
}

// AcquireBlock obtains a metadata slot, constructs a fresh
// BlockDescriptor inheriting that slot's generation, and activates it
// at address with epoch. The returned slot.Slot must be passed to
// ReleaseBlock once the arena retires the descriptor.
func (s *System) AcquireBlock(address uintptr, epoch uint64) (*block.Descriptor, slot.Slot) {
	sl, ok := s.descriptors.Acquire(s.descriptorSlotSize)
	if !ok {
		panic("gcmalloc: descriptor slot pool exhausted")
	}
	d := new(block.Descriptor)
	block.Init(d, sl.Generation)
	d.Activate(address, epoch)
	return d, sl
}

// ReleaseBlock retires a BlockDescriptor's slot. The descriptor itself
// must already be Empty(); retirement policy belongs to the arena.
func (s *System) ReleaseBlock(sl slot.Slot) {
	s.descriptors.Release(sl)
}

// AcquireSlabExtent obtains an Extent slot and initializes it as a slab
// over one page of hpd.
func (s *System) AcquireSlabExtent(addr uintptr, hpd *block.Descriptor, arenaIndex uint32, class uint8) (*extent.Extent, slot.Slot) {
	sl, ok := s.extents.Acquire(gcconst.ExtentAlign)
	if !ok {
		panic("gcmalloc: extent slot pool exhausted")
	}
	e := new(extent.Extent)
	extent.InitSlab(e, addr, gcconst.PageSize, hpd, sl.Generation, arenaIndex, class)
	return e, sl
}

// AcquireLargeExtent obtains an Extent slot and initializes it as a
// multi-page run with no slab bookkeeping.
func (s *System) AcquireLargeExtent(addr, size uintptr, hpd *block.Descriptor, arenaIndex uint32) (*extent.Extent, slot.Slot) {
	sl, ok := s.extents.Acquire(gcconst.ExtentAlign)
	if !ok {
		panic("gcmalloc: extent slot pool exhausted")
	}
	e := new(extent.Extent)
	extent.InitLarge(e, addr, size, hpd, sl.Generation, arenaIndex)
	return e, sl
}

// ReleaseExtentSlot retires an Extent's slot.
func (s *System) ReleaseExtentSlot(sl slot.Slot) {
	s.extents.Release(sl)
}
