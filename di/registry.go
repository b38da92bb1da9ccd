package di

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocrud/weavedi/logging"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/gocrud/weavedi/di"

// Registry 是类型键控的依赖注册表。
//
// 写入（注册、批量引导、重置）由写锁串行化，每次写入原子地发布一个新的 Snapshot；
// 解析只做一次原子指针读取，不持有任何锁。
type Registry struct {
	settings  Settings
	threshold atomic.Int64
	logger    logging.Logger
	tracer    trace.Tracer

	slots   *slotIndex
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex

	stats   *usageStats
	cycles  *cycleLog
	flights singleflight.Group

	optimized atomic.Pointer[[]Key]
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New 创建一个新的空注册表。
func New(opts ...RegistryOption) *Registry {
	r := &Registry{
		settings: DefaultSettings(),
		logger:   logging.NewNopLogger(),
		tracer:   noop.NewTracerProvider().Tracer(tracerName),
		stats:    newUsageStats(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.threshold.Store(int64(r.settings.FrequentThreshold))
	r.cycles = newCycleLog(r.settings.CycleHistory)
	r.slots = newSlotIndex(r.stats.ensure)
	r.current.Store(&Snapshot{index: r.slots})

	if r.settings.OptimizeDebounce > 0 && !r.settings.DisableStats {
		r.doneCh = make(chan struct{})
		go r.optimizeLoop()
	}
	return r
}

// Settings 返回注册表的运行参数。
func (r *Registry) Settings() Settings {
	s := r.settings
	s.FrequentThreshold = int(r.threshold.Load())
	return s
}

// Register 注册 key 的工厂并发布新快照。
// 注册总是被接受：同一个 key 的最后一次注册生效。
func (r *Registry) Register(key Key, factory Factory, opts ...Option) *Registration {
	reg := r.newRegistration(key, factory, applyOptions(opts))
	snap := r.publish(func(b *snapshotBuilder) {
		b.set(reg.slot, reg)
	})

	r.logger.Debug("service registered",
		logging.Field{Key: "key", Value: key.String()},
		logging.Field{Key: "scope", Value: reg.scope.String()},
		logging.Field{Key: "slot", Value: reg.slot},
		logging.Field{Key: "version", Value: snap.version})
	return reg
}

// Unregister 移除 key 的注册。key 未注册时返回 false。
func (r *Registry) Unregister(key Key) bool {
	slot, ok := r.slots.lookup(key)
	if !ok {
		return false
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	prev := r.current.Load()
	if prev.get(slot) == nil {
		return false
	}
	b := newSnapshotBuilder(prev)
	b.set(slot, nil)
	r.current.Store(b.build(prev.version + 1))

	r.logger.Debug("service unregistered", logging.Field{Key: "key", Value: key.String()})
	return true
}

// Snapshot 返回最新发布的快照。
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// IsRegistered 报告 key 是否已注册，不会触发构造。
func (r *Registry) IsRegistered(key Key) bool {
	return r.lookup(key) != nil
}

// Registration 返回 key 当前的注册。
func (r *Registry) Registration(key Key) (*Registration, bool) {
	reg := r.lookup(key)
	return reg, reg != nil
}

// ReleaseAll 用空快照替换当前快照。槽位保持分配不变。
func (r *Registry) ReleaseAll() {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	prev := r.current.Load()
	r.current.Store(&Snapshot{version: prev.version + 1, index: r.slots})
	r.logger.Debug("registry released", logging.Field{Key: "released", Value: prev.count})
}

// ResetForTesting 清空全部注册、使用统计和循环历史，用于测试隔离。
func (r *Registry) ResetForTesting() {
	r.ReleaseAll()
	r.ResetStats()
	r.cycles.clear()
}

// Close 停止后台 optimizer。可重复调用。
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		if r.doneCh != nil {
			<-r.doneCh
		}
	})
	return nil
}

func (r *Registry) newRegistration(key Key, factory Factory, cfg registrationConfig) *Registration {
	if key.IsZero() {
		panic("di: 不能注册零值 Key")
	}
	if factory == nil && !cfg.hasValue {
		panic(fmt.Sprintf("di: %v 的工厂为 nil", key))
	}

	reg := &Registration{
		slot:         r.slots.slot(key),
		key:          key,
		scope:        cfg.scope,
		hint:         cfg.hint,
		factory:      factory,
		deps:         cfg.deps,
		registeredAt: time.Now(),
		cell:         &instanceCell{},
	}
	if cfg.hasValue {
		if reg.factory == nil {
			v := cfg.value
			reg.factory = func(context.Context, Resolver) (any, error) { return v, nil }
		}
		reg.cell.install(cfg.value)
	}
	return reg
}

// publish 在写锁内基于当前快照应用修改并发布新版本。
func (r *Registry) publish(apply func(*snapshotBuilder)) *Snapshot {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	prev := r.current.Load()
	b := newSnapshotBuilder(prev)
	apply(b)
	next := b.build(prev.version + 1)
	r.current.Store(next)
	return next
}

func (r *Registry) lookup(key Key) *Registration {
	slot, ok := r.slots.lookup(key)
	if !ok {
		return nil
	}
	return r.current.Load().get(slot)
}
