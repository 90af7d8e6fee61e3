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

// Package sizeclass holds the read-only table of small-object size
// classes (the "binInfos" the core reads when initializing a slab
// Extent). The ladder construction mirrors the power-of-two pool sizing
// the teacher's mempool package builds for its sync.Pool ladder, scaled
// down from byte-buffer reuse to fixed-size slab slots.
package sizeclass

import (
	"fmt"
	"math/bits"

	"github.com/cwmem/gcmalloc/gcconst"
)

// BinInfo describes one size class: the size of each slot it hands out
// and how many such slots fit in one page-sized slab.
type BinInfo struct {
	SlotSize uint32
	Slots    uint16
}

const minSlotSize = 8

// Table is the power-of-two size-class ladder from minSlotSize up to
// (but not including) a full page; a slab holding slots of SlotSize s
// has gcconst.PageSize/s slots.
var Table [gcconst.ClassCountSmall]BinInfo

func init() {
	n := 0
	for slotSize := minSlotSize; slotSize < gcconst.PageSize && n < gcconst.ClassCountSmall; slotSize <<= 1 {
		slots := gcconst.PageSize / slotSize
		if slots > bitmap512Cap {
			slots = bitmap512Cap
		}
		Table[n] = BinInfo{SlotSize: uint32(slotSize), Slots: uint16(slots)}
		n++
	}
	for i := n; i < gcconst.ClassCountSmall; i++ {
		Table[i] = Table[n-1]
	}
}

// bitmap512Cap mirrors bitmap.Bits without importing the bitmap package,
// since Extent.slabData can track at most that many slots per spec §3.
const bitmap512Cap = 512

// Lookup returns the BinInfo for class, the interface the core reads
// from when an Extent is initialized as a slab (spec §6).
func Lookup(class uint8) BinInfo {
	if int(class) >= len(Table) {
		panic(fmt.Sprintf("sizeclass: class %d exceeds ClassCountSmall (%d)", class, gcconst.ClassCountSmall))
	}
	return Table[class]
}

// IndexForSize returns the smallest size class whose SlotSize is >=
// size, mirroring the teacher's bits2idx lookup-by-rounded-size idiom.
func IndexForSize(size int) (uint8, error) {
	if size <= 0 {
		return 0, fmt.Errorf("sizeclass: size must be positive, got %d", size)
	}
	if size > int(Table[len(Table)-1].SlotSize) {
		return 0, fmt.Errorf("sizeclass: size %d exceeds the largest size class (%d)", size, Table[len(Table)-1].SlotSize)
	}
	want := 1 << bits.Len(uint(size-1))
	if want < minSlotSize {
		want = minSlotSize
	}
	for i, bin := range Table {
		if int(bin.SlotSize) >= want {
			return uint8(i), nil
		}
	}
	return uint8(len(Table) - 1), nil
}
