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

// Package slot implements the metadata-slot provider the core reads
// from but never allocates through directly (spec §6): raw, aligned
// storage for BlockDescriptor and Extent instances, handed out as a
// {address, generation} pair and reused through a small ring before
// falling back to the shared byte-slice cache.
package slot

import (
	"fmt"
	"sync"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/cwmem/gcmalloc/gcconst"
	"github.com/cwmem/gcmalloc/internal/rawmem"
)

// Slot is raw storage for one BlockDescriptor or Extent: an address the
// core constructs a value in place at, and a generation copied onto
// that value so stale references can be detected after a later recycle.
type Slot struct {
	Address    uintptr
	Generation uint32
}

// Provider supplies and reclaims Slots. Acquire returns ok=false only
// on exhaustion (spec §7); this package's implementation backs onto the
// Go heap and in practice never returns false.
type Provider interface {
	Acquire(size uintptr) (Slot, bool)
	Release(s Slot)
}

type chunk struct {
	buf        []byte
	generation uint32
}

// recycledRing is a fixed-capacity FIFO of retired chunks, specialized
// from the teacher's generic ring container down to this package's one
// stored type. FIFO order means a chunk pushed with a lower generation
// is popped before one pushed later with a higher generation, modeling
// spec §4.4's "low-generation slots are reused before high-generation
// ones" without a full priority queue.
type recycledRing struct {
	items []*chunk
	head  int
	count int
}

func newRecycledRing(capacity int) *recycledRing {
	return &recycledRing{items: make([]*chunk, capacity)}
}

func (r *recycledRing) push(c *chunk) bool {
	if r.count == len(r.items) {
		return false
	}
	r.items[(r.head+r.count)%len(r.items)] = c
	r.count++
	return true
}

func (r *recycledRing) pop() *chunk {
	if r.count == 0 {
		return nil
	}
	c := r.items[r.head]
	r.items[r.head] = nil
	r.head = (r.head + 1) % len(r.items)
	r.count--
	return c
}

// Pool is a Provider. Its ring is pre-warmed with capacity fresh,
// uninitialized chunks from dirtmake; once the ring runs dry, Acquire
// falls back to mcache, and once it's full, Release overflows into
// mcache too, so the hot path never touches the general Go allocator.
type Pool struct {
	mu       sync.Mutex
	slotSize uintptr
	recycled *recycledRing
}

// NewPool creates a Pool handing out slots of exactly slotSize bytes,
// pre-warmed with capacity chunks. slotSize must be a power of two no
// smaller than gcconst.ExtentAlign, so an Extent pool uses ExtentAlign
// itself while a BlockDescriptor pool may use a larger slot.
func NewPool(slotSize uintptr, capacity int) (*Pool, error) {
	if slotSize == 0 || slotSize&(slotSize-1) != 0 {
		return nil, fmt.Errorf("slot: slotSize must be a power of two, got %d", slotSize)
	}
	if slotSize < gcconst.ExtentAlign {
		return nil, fmt.Errorf("slot: slotSize %d is smaller than gcconst.ExtentAlign (%d)", slotSize, gcconst.ExtentAlign)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("slot: capacity must be positive, got %d", capacity)
	}

	p := &Pool{slotSize: slotSize, recycled: newRecycledRing(capacity)}
	for i := 0; i < capacity; i++ {
		buf := dirtmake.Bytes(int(slotSize), int(slotSize))
		p.recycled.push(&chunk{buf: buf})
	}
	return p, nil
}

// Acquire returns a Slot backed by a recycled or cache-grown chunk.
func (p *Pool) Acquire(size uintptr) (Slot, bool) {
	if size != p.slotSize {
		panic("slot: Acquire size mismatch")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c := p.recycled.pop(); c != nil {
		return Slot{Address: rawmem.Addr(c.buf), Generation: c.generation}, true
	}

	buf := mcache.Malloc(int(p.slotSize))
	return Slot{Address: rawmem.Addr(buf), Generation: 0}, true
}

// Release retires s: its storage is pushed back onto the ring with an
// incremented generation, or handed to mcache if the ring is full.
func (p *Pool) Release(s Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := rawmem.Slice(s.Address, int(p.slotSize))
	c := &chunk{buf: buf, generation: s.Generation + 1}
	if !p.recycled.push(c) {
		mcache.Free(buf)
	}
}
