package gcmalloc

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwmem/gcmalloc/arenapool"
	"github.com/cwmem/gcmalloc/block"
	"github.com/cwmem/gcmalloc/gcconst"
	"github.com/cwmem/gcmalloc/order"
	"github.com/cwmem/gcmalloc/sizeclass"
	"github.com/cwmem/gcmalloc/slot"
)

const descriptorSlotSize = 256

func TestNewSystemValidation(t *testing.T) {
	_, err := NewSystem(descriptorSlotSize, 4, 4)
	assert.NoError(t, err)

	_, err = NewSystem(descriptorSlotSize+1, 4, 4)
	assert.Error(t, err, "descriptor slot size must be a power of two")
}

func TestAcquireReleaseBlockBumpsGeneration(t *testing.T) {
	sys, err := NewSystem(descriptorSlotSize, 1, 2)
	require.NoError(t, err)

	d, sl := sys.AcquireBlock(0x1000, 1)
	require.Equal(t, uint32(0), sl.Generation)
	require.Equal(t, uint32(0), d.Generation())

	sys.ReleaseBlock(sl)

	d2, sl2 := sys.AcquireBlock(0x2000, 1)
	assert.Equal(t, uint32(1), sl2.Generation, "a recycled slot's generation must increment")
	assert.Equal(t, uint32(1), d2.Generation())
}

func TestSystemScenarioA_ThroughSlotProvidedBlock(t *testing.T) {
	sys, err := NewSystem(descriptorSlotSize, 2, 2)
	require.NoError(t, err)

	d, sl := sys.AcquireBlock(0x3000, 1)
	defer func() {
		d.Release(0, d.UsedCount()) // drain before retiring, if anything remains
	}()

	require.Equal(t, 0, d.Reserve(5))
	require.Equal(t, 5, d.Reserve(5))
	d.Release(0, 5)
	require.Equal(t, 10, d.Reserve(7))
	require.Equal(t, 0, d.Reserve(5))

	assert.Equal(t, 3, d.AllocCount())
	assert.Equal(t, 17, d.UsedCount())
	assert.Equal(t, 495, d.LongestFreeRange())

	_ = sl // slot is released via the deferred drain path in a real caller
}

func TestSystemSlabExtentWiring(t *testing.T) {
	sys, err := NewSystem(descriptorSlotSize, 2, 4)
	require.NoError(t, err)

	hpd, _ := sys.AcquireBlock(0x4000, 1)
	page := hpd.Reserve(1)
	addr := hpd.Address() + uintptr(page)*gcconst.PageSize

	e, extSlot := sys.AcquireSlabExtent(addr, hpd, 5, 0)
	require.True(t, e.IsSlab())
	require.Equal(t, int(sizeclass.Lookup(0).Slots), e.FreeSlots())
	require.Same(t, hpd, e.BlockDescriptor())

	s0 := e.Allocate()
	s1 := e.Allocate()
	assert.Equal(t, 0, s0)
	assert.Equal(t, 1, s1)

	e.Free(s0)
	s2 := e.Allocate()
	assert.Equal(t, 0, s2, "the reclaimed slot is reused before growing further")

	sys.ReleaseExtentSlot(extSlot)
}

func TestSystemLargeExtentWiring(t *testing.T) {
	sys, err := NewSystem(descriptorSlotSize, 2, 4)
	require.NoError(t, err)

	hpd, _ := sys.AcquireBlock(0x5000, 1)
	pages := hpd.Reserve(4)
	addr := hpd.Address() + uintptr(pages)*gcconst.PageSize
	size := uintptr(4) * gcconst.PageSize

	e, _ := sys.AcquireLargeExtent(addr, size, hpd, 6)
	assert.False(t, e.IsSlab())
	assert.True(t, e.Contains(addr))
	assert.True(t, e.Contains(addr+size-1))
	assert.False(t, e.Contains(addr+size))
}

func TestOrderingAcrossAcquiredBlocks(t *testing.T) {
	sys, err := NewSystem(descriptorSlotSize, 4, 4)
	require.NoError(t, err)

	var blocks []*block.Descriptor
	for i, epoch := range []uint64{30, 10, 20} {
		d, _ := sys.AcquireBlock(uintptr(0x10000*(i+1)), epoch)
		blocks = append(blocks, d)
	}

	sort.Slice(blocks, func(i, j int) bool {
		return order.ByEpoch(blocks[i], blocks[j]) < 0
	})

	var epochs []uint64
	for _, d := range blocks {
		epochs = append(epochs, d.Epoch())
	}
	assert.Equal(t, []uint64{10, 20, 30}, epochs, "sorting by ByEpoch must yield oldest-first order")
}

func TestConcurrentArenasOverSystemBlocks(t *testing.T) {
	sys, err := NewSystem(descriptorSlotSize, 8, 1)
	require.NoError(t, err)

	const arenaCount = 4
	const blocksPerArena = 2

	var arenas []*arenapool.Arena
	for a := 0; a < arenaCount; a++ {
		var blocks []*block.Descriptor
		for b := 0; b < blocksPerArena; b++ {
			d, _ := sys.AcquireBlock(uintptr(0x100000*(a*blocksPerArena+b+1)), uint64(a*blocksPerArena+b+1))
			blocks = append(blocks, d)
		}
		arenas = append(arenas, arenapool.NewArena(blocks))
	}

	p := arenapool.New("system-arenas", nil)
	var wg sync.WaitGroup
	for _, arena := range arenas {
		arena := arena
		for b := 0; b < blocksPerArena; b++ {
			b := b
			for i := 0; i < 32; i++ {
				wg.Add(1)
				p.Go(func() {
					defer wg.Done()
					idx := arena.Reserve(b, 1)
					arena.Release(b, idx, 1)
				})
			}
		}
	}
	wg.Wait()

	for _, arena := range arenas {
		require.Equal(t, blocksPerArena, arena.Blocks())
	}
}

func TestSlotProviderInterfaceSatisfiedByPool(t *testing.T) {
	var _ slot.Provider = (*slot.Pool)(nil)
}
