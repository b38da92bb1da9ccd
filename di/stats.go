package di

import (
	"sync"
	"sync/atomic"
	"time"
)

// UsageRecord 是某个 Key 的使用统计。
type UsageRecord struct {
	Key            Key
	Slot           int
	Count          uint64
	LastResolvedAt time.Time
}

// Counters 汇总解析过程中的计数。
type Counters struct {
	Resolutions            uint64
	Failures               uint64
	CyclesDetected         uint64
	RedundantConstructions uint64
}

type usageCell struct {
	count atomic.Uint64
	last  atomic.Int64 // unix nano
}

// usageStats 是建议性的使用统计，独立于快照发布。
//
// 计数是按槽位的原子变量，record 永远不会阻塞解析；
// 跨 goroutine 的计数只保证最终一致。
type usageStats struct {
	mu    sync.Mutex // 只用于扩容
	cells atomic.Pointer[[]*usageCell]

	failures  atomic.Uint64
	cycles    atomic.Uint64
	redundant atomic.Uint64

	// dirty 容量为 1，用于非阻塞地唤醒 optimizer
	dirty chan struct{}
}

func newUsageStats() *usageStats {
	s := &usageStats{dirty: make(chan struct{}, 1)}
	cells := make([]*usageCell, 0)
	s.cells.Store(&cells)
	return s
}

// ensure 保证至少有 n 个槽位的计数单元。由 slotIndex 在分配槽位时调用。
func (s *usageStats) ensure(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := *s.cells.Load()
	if len(old) >= n {
		return
	}
	next := make([]*usageCell, n, growCap(cap(old), n))
	copy(next, old)
	for i := len(old); i < n; i++ {
		next[i] = &usageCell{}
	}
	s.cells.Store(&next)
}

func (s *usageStats) record(slot int) {
	cells := *s.cells.Load()
	if slot < 0 || slot >= len(cells) {
		return
	}
	c := cells[slot]
	c.count.Add(1)
	c.last.Store(time.Now().UnixNano())

	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *usageStats) count(slot int) uint64 {
	cells := *s.cells.Load()
	if slot < 0 || slot >= len(cells) {
		return 0
	}
	return cells[slot].count.Load()
}

// frequent 返回计数严格大于 threshold 的槽位。
func (s *usageStats) frequent(threshold int) []int {
	if threshold < 0 {
		threshold = 0
	}
	var out []int
	for slot, c := range *s.cells.Load() {
		if c.count.Load() > uint64(threshold) {
			out = append(out, slot)
		}
	}
	return out
}

func (s *usageStats) records() []usageSample {
	cells := *s.cells.Load()
	out := make([]usageSample, 0, len(cells))
	for slot, c := range cells {
		n := c.count.Load()
		if n == 0 {
			continue
		}
		out = append(out, usageSample{slot: slot, count: n, last: c.last.Load()})
	}
	return out
}

func (s *usageStats) total() uint64 {
	var sum uint64
	for _, c := range *s.cells.Load() {
		sum += c.count.Load()
	}
	return sum
}

func (s *usageStats) reset() {
	for _, c := range *s.cells.Load() {
		c.count.Store(0)
		c.last.Store(0)
	}
	s.failures.Store(0)
	s.cycles.Store(0)
	s.redundant.Store(0)
}

type usageSample struct {
	slot  int
	count uint64
	last  int64
}
