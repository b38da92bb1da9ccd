package di

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slotA struct{}
type slotB struct{}

func nopFactory(context.Context, Resolver) (any, error) { return &slotA{}, nil }

func TestSlotIndex_Idempotent(t *testing.T) {
	var grown []int
	x := newSlotIndex(func(n int) { grown = append(grown, n) })

	a := x.slot(KeyOf[slotA]())
	b := x.slot(KeyOf[slotB]())
	named := x.slot(NamedKey[slotA]("x"))

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, 2, named)
	assert.Equal(t, a, x.slot(KeyOf[slotA]()))
	assert.Equal(t, []int{1, 2, 3}, grown)

	k, ok := x.key(named)
	require.True(t, ok)
	assert.Equal(t, NamedKey[slotA]("x"), k)

	_, ok = x.lookup(KeyOf[string]())
	assert.False(t, ok)
}

func TestSlotIndex_Concurrent(t *testing.T) {
	x := newSlotIndex(nil)
	const n = 64

	slots := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slots[i] = x.slot(KeyOf[slotA]())
		}(i)
	}
	wg.Wait()

	for _, s := range slots {
		assert.Equal(t, slots[0], s)
	}
	assert.Equal(t, 1, x.len())
}

func TestGrowCap(t *testing.T) {
	assert.Equal(t, 16, growCap(0, 1))
	assert.Equal(t, 16, growCap(16, 16))
	assert.Equal(t, 32, growCap(16, 17))
	assert.Equal(t, 128, growCap(16, 100))
}

func TestSnapshot_StructuralSharing(t *testing.T) {
	base := &Snapshot{}
	b := newSnapshotBuilder(base)
	for slot := 0; slot < chunkSize*3; slot++ {
		b.set(slot, &Registration{slot: slot})
	}
	s1 := b.build(1)
	require.Len(t, s1.chunks, 3)
	assert.Equal(t, chunkSize*3, s1.Len())

	// 只修改第二块中的一个槽位
	b2 := newSnapshotBuilder(s1)
	b2.set(chunkSize+5, &Registration{slot: chunkSize + 5})
	s2 := b2.build(2)

	assert.Same(t, s1.chunks[0], s2.chunks[0])
	assert.NotSame(t, s1.chunks[1], s2.chunks[1])
	assert.Same(t, s1.chunks[2], s2.chunks[2])
	assert.NotSame(t, s1.get(chunkSize+5), s2.get(chunkSize+5))
	assert.Equal(t, s1.Len(), s2.Len())

	// 旧快照不受影响
	assert.Equal(t, uint64(1), s1.Version())
	assert.Equal(t, chunkSize+5, s1.get(chunkSize+5).slot)
}

func TestSnapshot_ClearAndCount(t *testing.T) {
	b := newSnapshotBuilder(&Snapshot{})
	b.set(3, &Registration{slot: 3})
	b.set(70, &Registration{slot: 70})
	s1 := b.build(1)
	assert.Equal(t, 2, s1.Len())
	assert.Nil(t, s1.get(4))
	assert.Nil(t, s1.get(1000))

	b2 := newSnapshotBuilder(s1)
	b2.set(3, nil)
	b2.set(3, nil)
	s2 := b2.build(2)
	assert.Equal(t, 1, s2.Len())
	assert.Nil(t, s2.get(3))
	assert.NotNil(t, s1.get(3))

	regs := s2.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, 70, regs[0].slot)
}

func TestRegistry_SnapshotVersionsAreTotallyOrdered(t *testing.T) {
	r := New()
	defer r.Close()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Register(NewKey(TypeOf[slotA](), string(rune('a'+i%26))+string(rune('a'+i/26))), nopFactory)
		}(i)
	}
	wg.Wait()

	snap := r.Snapshot()
	assert.Equal(t, uint64(n), snap.Version())
	assert.Equal(t, n, snap.Len())
}

func TestInstanceCell_FirstWriterWins(t *testing.T) {
	var c instanceCell
	v1, won1 := c.install("first")
	v2, won2 := c.install("second")

	assert.True(t, won1)
	assert.False(t, won2)
	assert.Equal(t, "first", v1)
	assert.Equal(t, "first", v2)
}

func TestCycleLog_Ring(t *testing.T) {
	l := newCycleLog(2)
	a, b, c := KeyOf[slotA](), KeyOf[slotB](), KeyOf[string]()

	l.add([]Key{a, a})
	l.add([]Key{b, b})
	l.add([]Key{c, c})

	assert.Equal(t, [][]Key{{b, b}, {c, c}}, l.list())

	l.clear()
	assert.Empty(t, l.list())
}

func TestChain_EnterDetectsCycle(t *testing.T) {
	a, b := KeyOf[slotA](), KeyOf[slotB]()

	c1, err := (*chain)(nil).enter(0, a)
	require.NoError(t, err)
	c2, err := c1.enter(1, b)
	require.NoError(t, err)
	assert.Equal(t, []Key{a, b}, c2.keys())

	_, err = c2.enter(0, a)
	var ce *CircularDependencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []Key{a, b, a}, ce.Cycle)

	// 父帧不受子帧影响
	assert.Equal(t, []Key{a}, c1.keys())
}
