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

// Package block implements Descriptor, the metadata record that owns
// one huge-page-sized region and tracks its page occupancy through a
// bitmap, a cached longest-free-range, and the alloc/used counters an
// external arena inspects to decide heap/tree membership.
package block

import (
	"github.com/cwmem/gcmalloc/bitmap"
	"github.com/cwmem/gcmalloc/contract"
	"github.com/cwmem/gcmalloc/gcconst"
)

// heapNodeSize/treeNodeSize are opaque storage for the external pairing
// heap and red-black tree this module never constructs or traverses
// (spec §6, §9): stable bytes only, reinterpreted by the collaborator.
const (
	heapNodeSize = 24
	treeNodeSize = 32
)

// Descriptor owns one PagesInBlock-page region. The zero value is not
// valid; obtain one via Init, which models the source's in-place
// at(...) re-initialization idiom (spec §9) against memory supplied by
// a metadata-slot provider.
type Descriptor struct {
	address    uintptr
	epoch      uint64
	generation uint32

	allocCount       int
	usedCount        int
	longestFreeRange int
	allocatedPages   bitmap.Bitmap

	heapNode [heapNodeSize]byte
	treeNode [treeNodeSize]byte
}

// Init writes a fresh, unused descriptor into *d, inheriting generation
// from the caller's metadata slot. The descriptor has no address until
// Activate is called; generation survives any later Activate call on
// the same storage, per spec §9's reinitialization invariant.
func Init(d *Descriptor, generation uint32) {
	heap, tree := d.heapNode, d.treeNode
	*d = Descriptor{
		generation:       generation,
		longestFreeRange: gcconst.PagesInBlock,
		heapNode:         heap,
		treeNode:         tree,
	}
}

// Activate places an unused descriptor at a concrete huge-page address
// with a fresh epoch, strictly greater than any epoch previously
// observed on this storage. generation is preserved from the last Init.
func (d *Descriptor) Activate(address uintptr, epoch uint64) {
	contract.Check(address != 0, "block: Activate requires a non-null address")
	contract.Check(epoch > d.epoch, "block: Activate requires a strictly increasing epoch")

	d.address = address
	d.epoch = epoch
	d.allocCount = 0
	d.usedCount = 0
	d.longestFreeRange = gcconst.PagesInBlock
	d.allocatedPages = bitmap.Bitmap{}
}

// Address returns the base address of the huge page, or 0 if unused.
func (d *Descriptor) Address() uintptr { return d.address }

// Epoch returns the monotonic timestamp assigned at the last Activate.
func (d *Descriptor) Epoch() uint64 { return d.epoch }

// Generation returns the recycling counter inherited from the metadata slot.
func (d *Descriptor) Generation() uint32 { return d.generation }

// AllocCount returns the number of outstanding reserve calls not yet released.
func (d *Descriptor) AllocCount() int { return d.allocCount }

// UsedCount returns the number of pages currently marked allocated.
func (d *Descriptor) UsedCount() int { return d.usedCount }

// LongestFreeRange returns the cached length of the longest free run.
func (d *Descriptor) LongestFreeRange() int { return d.longestFreeRange }

// Empty reports whether no pages are currently allocated.
func (d *Descriptor) Empty() bool { return d.usedCount == 0 }

// Full reports whether every page in the block is allocated.
func (d *Descriptor) Full() bool { return d.usedCount == gcconst.PagesInBlock }

// HeapNode returns the opaque storage reserved for the external pairing
// heap's intrusive node. Callers must never alias it with other fields.
func (d *Descriptor) HeapNode() *[heapNodeSize]byte { return &d.heapNode }

// TreeNode returns the opaque storage reserved for the external
// red-black tree's intrusive node.
func (d *Descriptor) TreeNode() *[treeNodeSize]byte { return &d.treeNode }

// freeRunsScan visits every maximal run of clear bits, in increasing
// order of start index, until the bitmap is exhausted.
func (d *Descriptor) freeRunsScan(visit func(index, length int)) {
	cursor := 0
	for {
		idx, length, ok := d.allocatedPages.NextFreeRange(cursor)
		if !ok {
			return
		}
		visit(idx, length)
		cursor = idx + length
	}
}

// scanLongest performs a full rescan, returning the longest free-run
// length and how many distinct runs attain it.
func (d *Descriptor) scanLongest() (longest, count int) {
	d.freeRunsScan(func(_, length int) {
		switch {
		case length > longest:
			longest, count = length, 1
		case length == longest:
			count++
		}
	})
	return longest, count
}

// Reserve selects a free run of at least pages pages using best-fit
// with tie-break toward the earliest start, marks the first pages bits
// of it allocated, and returns the starting page index.
//
// Pre: 0 < pages <= LongestFreeRange().
func (d *Descriptor) Reserve(pages int) int {
	contract.Check(pages > 0, "block: Reserve requires pages > 0")
	contract.Check(pages <= d.longestFreeRange, "block: Reserve requires pages <= LongestFreeRange")

	bestIndex, bestLength := -1, 0
	longest, secondLongest, longestCount := 0, 0, 0

	d.freeRunsScan(func(idx, length int) {
		if length >= pages && (bestIndex == -1 || length < bestLength) {
			bestIndex, bestLength = idx, length
		}
		switch {
		case length > longest:
			secondLongest = longest
			longest = length
			longestCount = 1
		case length == longest:
			longestCount++
		case length > secondLongest:
			secondLongest = length
		}
	})

	contract.Check(bestIndex >= 0, "block: Reserve found no run satisfying pages despite the longestFreeRange check")

	d.allocatedPages.SetRange(bestIndex, pages)
	d.allocCount++
	d.usedCount += pages

	if bestLength == longest && longestCount == 1 {
		newLongest := longest - pages
		if newLongest < secondLongest {
			newLongest = secondLongest
		}
		d.longestFreeRange = newLongest
	}

	return bestIndex
}

// Set attempts to grow an existing reservation in place by allocating
// exactly [index, index+pages). It does not increment AllocCount: this
// primitive only grows a reservation that Reserve already created.
//
// Pre: index+pages <= PagesInBlock.
func (d *Descriptor) Set(index, pages int) bool {
	contract.Check(index >= 0 && pages >= 0 && index+pages <= gcconst.PagesInBlock,
		"block: Set range out of bounds")
	if pages == 0 {
		return true
	}

	freeRun := d.allocatedPages.FindSet(index) - index
	if freeRun < pages {
		return false
	}

	// The free run being consumed may start before index.
	runLength := index + freeRun - (d.allocatedPages.FindSetBackward(index) + 1)
	longest, count := d.scanLongest()
	fromUniqueLongest := runLength == longest && count == 1

	d.allocatedPages.SetRange(index, pages)
	d.usedCount += pages

	if fromUniqueLongest {
		d.longestFreeRange, _ = d.scanLongest()
	}
	return true
}

// Clear deallocates [index, index+pages), the shrink primitive. It does
// not decrement AllocCount; use Release for full deallocation.
//
// Pre: every bit in [index, index+pages) is currently set.
func (d *Descriptor) Clear(index, pages int) {
	contract.Check(index >= 0 && pages >= 0 && index+pages <= gcconst.PagesInBlock,
		"block: Clear range out of bounds")
	if pages == 0 {
		return
	}
	contract.Check(d.allocatedPages.CountBits(index, index+pages) == pages,
		"block: Clear requires every bit in range to be set")

	d.allocatedPages.ClearRange(index, pages)
	d.usedCount -= pages

	setAfter := d.allocatedPages.FindSet(index + pages - 1)
	setBefore := d.allocatedPages.FindSetBackward(index)
	newRunLength := setAfter - (setBefore + 1)
	if newRunLength > d.longestFreeRange {
		d.longestFreeRange = newRunLength
	}
}

// Release is Clear followed by AllocCount--, the full-deallocation
// primitive corresponding one-to-one with an earlier Reserve call.
func (d *Descriptor) Release(index, pages int) {
	d.Clear(index, pages)
	d.allocCount--
}
