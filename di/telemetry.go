package di

import (
	"sort"
	"time"

	"github.com/gocrud/weavedi/logging"
)

// Summary 是注册表状态的只读汇总。
type Summary struct {
	SnapshotVersion uint64
	Registrations   int
	Slots           int
	Counters        Counters
	Optimized       []Key
	Cycles          [][]Key
}

// Summary 返回当前状态汇总。
func (r *Registry) Summary() Summary {
	snap := r.Snapshot()
	return Summary{
		SnapshotVersion: snap.version,
		Registrations:   snap.count,
		Slots:           r.slots.len(),
		Counters:        r.Counters(),
		Optimized:       r.OptimizedTypes(),
		Cycles:          r.CircularDependencies(),
	}
}

// Counters 返回解析计数。
func (r *Registry) Counters() Counters {
	return Counters{
		Resolutions:            r.stats.total(),
		Failures:               r.stats.failures.Load(),
		CyclesDetected:         r.stats.cycles.Load(),
		RedundantConstructions: r.stats.redundant.Load(),
	}
}

// Stats 返回每个被解析过的 Key 的解析次数。
func (r *Registry) Stats() map[Key]uint64 {
	samples := r.stats.records()
	out := make(map[Key]uint64, len(samples))
	for _, s := range samples {
		if k, ok := r.slots.key(s.slot); ok {
			out[k] = s.count
		}
	}
	return out
}

// UsageRecords 返回全部被解析过的 Key 的使用记录，按次数降序。
func (r *Registry) UsageRecords() []UsageRecord {
	samples := r.stats.records()
	out := make([]UsageRecord, 0, len(samples))
	for _, s := range samples {
		k, _ := r.slots.key(s.slot)
		rec := UsageRecord{Key: k, Slot: s.slot, Count: s.count}
		if s.last > 0 {
			rec.LastResolvedAt = time.Unix(0, s.last)
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Slot < out[j].Slot
	})
	return out
}

// UsageCount 返回 key 被成功解析的次数。
func (r *Registry) UsageCount(key Key) uint64 {
	slot, ok := r.slots.lookup(key)
	if !ok {
		return 0
	}
	return r.stats.count(slot)
}

// FrequentlyUsed 返回解析次数严格大于 threshold 的 Key，按槽位排序。
func (r *Registry) FrequentlyUsed(threshold int) []Key {
	slots := r.stats.frequent(threshold)
	out := make([]Key, 0, len(slots))
	for _, slot := range slots {
		if k, ok := r.slots.key(slot); ok {
			out = append(out, k)
		}
	}
	return out
}

// SetFrequentThreshold 修改高频阈值，并立即重新计算 OptimizedTypes。
func (r *Registry) SetFrequentThreshold(n int) {
	if n < 0 {
		n = 0
	}
	r.threshold.Store(int64(n))
	r.refreshOptimized()
}

// FrequentThreshold 返回当前高频阈值。
func (r *Registry) FrequentThreshold() int {
	return int(r.threshold.Load())
}

// OptimizedTypes 返回高频 Key 集合。
// 启用后台 optimizer 时返回最近一次计算的结果，否则按当前阈值现算，不修改任何状态。
func (r *Registry) OptimizedTypes() []Key {
	if r.doneCh == nil {
		return r.FrequentlyUsed(int(r.threshold.Load()))
	}
	p := r.optimized.Load()
	if p == nil {
		return nil
	}
	return append([]Key(nil), (*p)...)
}

// CircularDependencies 返回最近检测到的循环，从旧到新。
func (r *Registry) CircularDependencies() [][]Key {
	return r.cycles.list()
}

// ResetStats 清零使用统计和计数。
func (r *Registry) ResetStats() {
	r.stats.reset()
	empty := []Key{}
	r.optimized.Store(&empty)
}

// optimizeLoop 在统计变化后按防抖间隔重新计算高频集合。
func (r *Registry) optimizeLoop() {
	defer close(r.doneCh)

	debounce := r.settings.OptimizeDebounce
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-r.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-r.stats.dirty:
			if timer == nil {
				timer = time.NewTimer(debounce)
				fire = timer.C
			}
		case <-fire:
			timer = nil
			fire = nil
			r.refreshOptimized()
		}
	}
}

func (r *Registry) refreshOptimized() {
	next := r.FrequentlyUsed(int(r.threshold.Load()))

	var prev []Key
	if p := r.optimized.Load(); p != nil {
		prev = *p
	}
	r.optimized.Store(&next)

	known := make(map[Key]struct{}, len(prev))
	for _, k := range prev {
		known[k] = struct{}{}
	}
	for _, k := range next {
		if _, ok := known[k]; ok {
			continue
		}
		r.logger.Info("type marked as frequently used",
			logging.Field{Key: "key", Value: k.String()},
			logging.Field{Key: "count", Value: r.UsageCount(k)})
	}
}
