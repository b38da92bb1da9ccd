package di

import (
	"sync"
	"sync/atomic"
)

// slotIndex 在 Key 和整数槽位之间维护双向映射。
//
// 槽位单调递增分配且永不复用（即使 ResetForTesting 之后也是如此），
// 因此 slot -> Key 的映射一旦建立就不会变化。读路径无锁：
// Key -> slot 走 sync.Map，slot -> Key 走原子发布的切片。
// 分配走一个很短的互斥区，注册相对解析来说非常少见。
type slotIndex struct {
	mu    sync.Mutex
	slots sync.Map // Key -> int
	keys  atomic.Pointer[[]Key]

	// onGrow 在分配新槽位时（持有 mu）被调用，
	// 用于让统计数组等按槽位索引的结构同步扩容。
	onGrow func(n int)
}

func newSlotIndex(onGrow func(n int)) *slotIndex {
	x := &slotIndex{onGrow: onGrow}
	keys := make([]Key, 0, 16)
	x.keys.Store(&keys)
	return x
}

// slot 返回 key 已有的槽位，或分配下一个槽位。
func (x *slotIndex) slot(key Key) int {
	if v, ok := x.slots.Load(key); ok {
		return v.(int)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// 双重检查
	if v, ok := x.slots.Load(key); ok {
		return v.(int)
	}

	old := *x.keys.Load()
	n := len(old)

	// 复制后再追加：已发布的切片对读者来说必须保持不变
	next := make([]Key, n+1, growCap(cap(old), n+1))
	copy(next, old)
	next[n] = key

	if x.onGrow != nil {
		x.onGrow(n + 1)
	}

	x.keys.Store(&next)
	x.slots.Store(key, n)
	return n
}

// lookup 只读查询，不分配槽位。
func (x *slotIndex) lookup(key Key) (int, bool) {
	v, ok := x.slots.Load(key)
	if !ok {
		return 0, false
	}
	return v.(int), true
}

// key 返回槽位对应的 Key。
func (x *slotIndex) key(slot int) (Key, bool) {
	keys := *x.keys.Load()
	if slot < 0 || slot >= len(keys) {
		return Key{}, false
	}
	return keys[slot], true
}

// len 返回已分配的槽位数量。
func (x *slotIndex) len() int {
	return len(*x.keys.Load())
}

// growCap 按倍增策略计算新容量。
func growCap(current, need int) int {
	if need <= current {
		return current
	}
	c := current
	if c < 16 {
		c = 16
	}
	for c < need {
		c *= 2
	}
	return c
}
