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

// Package order implements the three total orders the external heap
// and tree collaborators sort descriptors by: by epoch, by
// (generation, address), and by address range. Every comparator returns
// a signed three-way result via the (l > r) - (l < r) idiom (for the
// address range: (addr >= end) - (addr < start)), never subtraction, so
// address-sized keys cannot overflow.
package order

import (
	"github.com/cwmem/gcmalloc/block"
	"github.com/cwmem/gcmalloc/contract"
	"github.com/cwmem/gcmalloc/extent"
	"github.com/cwmem/gcmalloc/gcconst"
)

func cmpUint64(l, r uint64) int {
	var gt, lt int
	if l > r {
		gt = 1
	}
	if l < r {
		lt = 1
	}
	return gt - lt
}

// ByEpoch orders BlockDescriptors by epoch, the priority function of the
// min-heap an arena uses to consistently pick the oldest block.
func ByEpoch(l, r *block.Descriptor) int {
	return cmpUint64(l.Epoch(), r.Epoch())
}

// genAddrKey packs generation into the high byte and address into the
// low LgAddressSpace bits of a single uint64, per spec §4.4.
func genAddrKey(generation uint32, address uintptr) uint64 {
	contract.Check(uint64(address) < uint64(1)<<gcconst.LgAddressSpace,
		"order: address exceeds LgAddressSpace bits")
	return uint64(generation)<<gcconst.LgAddressSpace | uint64(address)
}

// ByGenerationAddress orders unused BlockDescriptors so that
// low-generation slots are reused before high-generation ones, breaking
// ties on address.
func ByGenerationAddress(l, r *block.Descriptor) int {
	lk := genAddrKey(l.Generation(), l.Address())
	rk := genAddrKey(r.Generation(), r.Address())
	return cmpUint64(lk, rk)
}

// ByGenerationAddressExtent is ByGenerationAddress specialized to
// Extents, which carry their own independent generation field.
func ByGenerationAddressExtent(l, r *extent.Extent) int {
	lk := genAddrKey(l.Generation(), l.Addr())
	rk := genAddrKey(r.Generation(), r.Addr())
	return cmpUint64(lk, rk)
}

// ByAddressRange compares lhsAddr against rhs's half-open address range,
// powering a lookup tree keyed by virtual address: 0 when lhsAddr falls
// inside [rhs.Addr(), rhs.Addr()+rhs.Size()), -1 when below, +1 when at
// or past the end.
func ByAddressRange(lhsAddr uintptr, rhs *extent.Extent) int {
	lo := rhs.Addr()
	hi := rhs.Addr() + rhs.Size()
	var above, below int
	if lhsAddr >= hi {
		above = 1
	}
	if lhsAddr < lo {
		below = 1
	}
	return above - below
}
