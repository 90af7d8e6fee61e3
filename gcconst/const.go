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

// Package gcconst holds the compile-time tunables every other package in
// this module is built against. Changing any of these constants changes
// the shape of BlockDescriptor/Extent; they are not runtime options.
package gcconst

import "github.com/cwmem/gcmalloc/contract"

const (
	// PageSize is the OS page size backing one allocation unit of a block.
	PageSize = 4096

	// PageShift is log2(PageSize), used for address<->page arithmetic.
	PageShift = 12

	// PagesInBlock is the number of pages in one huge-page-sized block.
	PagesInBlock = 512

	// HugePageSize is the size in bytes of one block.
	HugePageSize = PagesInBlock * PageSize

	// ExtentAlign is the slot size of the Extent slot pool and the
	// smallest slot size any slot pool accepts. Must be a power of two.
	// It is not the size of an Extent value, which is larger; Extents are
	// not stored in these slots.
	ExtentAlign = 64

	// ExtentSize equals ExtentAlign by construction (spec §3).
	ExtentSize = ExtentAlign

	// LgAddressSpace is the number of bits assumed sufficient to hold any
	// address handled by this module. Must leave room for an 8-bit
	// generation in the high byte of a (generation, address) compare key.
	LgAddressSpace = 56

	// ClassCountSmall is the number of small-object size classes a slab
	// Extent may belong to.
	ClassCountSmall = 40

	// ArenaMask isolates the low bits of an arena index that this module
	// interprets directly: bit 0 selects pointer-bearing vs raw arenas.
	ArenaMask = 1

	// ArenaIndexBits is the width of Extent.arenaIndex in its packed word.
	ArenaIndexBits = 22
)

func init() {
	contract.Check(contract.PowerOfTwo(ExtentAlign), "gcconst.ExtentAlign must be a power of two")
	contract.Check(contract.PowerOfTwo(PageSize), "gcconst.PageSize must be a power of two")
	contract.Check(ExtentSize == ExtentAlign, "gcconst.ExtentSize must equal ExtentAlign")
	contract.Check(LgAddressSpace <= 56, "gcconst.LgAddressSpace exceeds the 56 bits available before the generation byte")
	contract.Check(ClassCountSmall < 1<<6, "gcconst.ClassCountSmall must fit the 6-bit sizeClass field of Extent.bits")
}
