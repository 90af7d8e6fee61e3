package extent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwmem/gcmalloc/gcconst"
	"github.com/cwmem/gcmalloc/sizeclass"
)

func TestInitSlabFieldsAndInvariant(t *testing.T) {
	var e Extent
	InitSlab(&e, 0x7000, gcconst.PageSize, nil, 3, 5, 0)

	assert.True(t, e.IsSlab())
	assert.Equal(t, uint32(5), e.ArenaIndex())
	assert.Equal(t, uint8(0), e.SizeClass())
	assert.Equal(t, uint32(3), e.Generation())
	assert.Equal(t, int(sizeclass.Lookup(0).Slots), e.FreeSlots())

	// I5: freeSlots + popcount(slabData) == slotCount(sizeClass)
	assert.Equal(t, int(sizeclass.Lookup(0).Slots), e.FreeSlots()+e.slabData.PopCount())
}

func TestInitLargeHasNoSlabBookkeeping(t *testing.T) {
	var e Extent
	InitLarge(&e, 0x9000, 4*gcconst.PageSize, nil, 1, 4)

	assert.False(t, e.IsSlab())
	assert.Equal(t, uint32(4), e.ArenaIndex())
	assert.Equal(t, 0, e.FreeSlots())
}

func TestContainsPointersFollowsArenaParity(t *testing.T) {
	var even, odd Extent
	InitLarge(&even, 0x1000, gcconst.PageSize, nil, 0, 4)
	InitLarge(&odd, 0x2000, gcconst.PageSize, nil, 0, 5)

	assert.False(t, even.ContainsPointers())
	assert.True(t, odd.ContainsPointers())
}

func TestScenarioE_ExtentSlab(t *testing.T) {
	var e Extent
	InitSlab(&e, 0xA000, gcconst.PageSize, nil, 1, 0, 0)
	require.Equal(t, int(sizeclass.Lookup(0).Slots), e.FreeSlots())

	s0 := e.Allocate()
	s1 := e.Allocate()
	s2 := e.Allocate()
	assert.Equal(t, 0, s0)
	assert.Equal(t, 1, s1)
	assert.Equal(t, 2, s2)
	assert.Equal(t, 509, e.FreeSlots())

	e.Free(1)
	assert.Equal(t, 510, e.FreeSlots())

	s := e.Allocate()
	assert.Equal(t, 1, s, "setFirst must reclaim the lowest clear bit")
	s = e.Allocate()
	assert.Equal(t, 3, s, "slot 2 is still live, so allocation continues past it")
	assert.Equal(t, 508, e.FreeSlots())
}

func TestAllocatePreconditionPanics(t *testing.T) {
	var large Extent
	InitLarge(&large, 0x1000, gcconst.PageSize, nil, 0, 2)
	assert.Panics(t, func() { large.Allocate() })

	var slab Extent
	InitSlab(&slab, 0x1000, gcconst.PageSize, nil, 0, 2, 39)
	for i := 0; i < int(sizeclass.Lookup(39).Slots); i++ {
		slab.Allocate()
	}
	assert.Panics(t, func() { slab.Allocate() })
}

func TestFreePreconditionPanics(t *testing.T) {
	var slab Extent
	InitSlab(&slab, 0x1000, gcconst.PageSize, nil, 0, 2, 0)
	assert.Panics(t, func() { slab.Free(0) }, "freeing a never-allocated slot must panic")

	idx := slab.Allocate()
	slab.Free(idx)
	assert.Panics(t, func() { slab.Free(idx) }, "double free must panic")
}

func TestScenarioF_AddressRangeContainment(t *testing.T) {
	const base uintptr = 0x56789abcd000
	const size uintptr = 13 * gcconst.PageSize

	var e Extent
	InitLarge(&e, base, size, nil, 7, 6)

	for i := uintptr(0); i < size; i++ {
		assert.True(t, e.Contains(base+i), "offset %d", i)
	}
	assert.False(t, e.Contains(base-1))
	assert.False(t, e.Contains(base+size))
}

func TestInitSlabRejectsOversizedArenaIndex(t *testing.T) {
	var e Extent
	assert.Panics(t, func() { InitSlab(&e, 0, gcconst.PageSize, nil, 0, uint32(arenaIndexMask+1), 0) })
}
