package sizeclass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwmem/gcmalloc/gcconst"
)

func TestTableIsPopulatedAndMonotonic(t *testing.T) {
	var prev uint32
	for i, bin := range Table {
		require.Greater(t, bin.SlotSize, uint32(0), "class %d", i)
		require.Greater(t, bin.Slots, uint16(0), "class %d", i)
		assert.GreaterOrEqual(t, bin.SlotSize, prev, "size classes must be non-decreasing")
		prev = bin.SlotSize
	}
}

func TestLookupFirstClassIsSmallest(t *testing.T) {
	first := Lookup(0)
	assert.Equal(t, uint32(minSlotSize), first.SlotSize)
	assert.Equal(t, uint16(gcconst.PageSize/minSlotSize), first.Slots)
}

func TestLookupOutOfRangePanics(t *testing.T) {
	assert.Panics(t, func() { Lookup(gcconst.ClassCountSmall) })
	assert.Panics(t, func() { Lookup(255) })
}

func TestIndexForSizeRoundsUp(t *testing.T) {
	tests := []struct {
		size     int
		wantSize uint32
	}{
		{1, minSlotSize},
		{8, 8},
		{9, 16},
		{100, 128},
		{2000, Table[len(Table)-1].SlotSize},
	}
	for _, tt := range tests {
		class, err := IndexForSize(tt.size)
		require.NoError(t, err)
		assert.Equal(t, tt.wantSize, Table[class].SlotSize, "size=%d", tt.size)
	}
}

func TestIndexForSizeRejectsInvalid(t *testing.T) {
	_, err := IndexForSize(0)
	assert.Error(t, err)
	_, err = IndexForSize(-5)
	assert.Error(t, err)
	_, err = IndexForSize(int(Table[len(Table)-1].SlotSize) + 1)
	assert.Error(t, err)
}
