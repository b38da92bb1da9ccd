package di

import (
	"context"
	"sync"

	"github.com/gocrud/weavedi/logging"
)

// Registrar 接收注册。Registry 和 Batch 都实现了该接口，
// 因此泛型辅助函数和 Provide 既能直接注册，也能在 Bootstrap 中暂存。
type Registrar interface {
	Register(key Key, factory Factory, opts ...Option) *Registration
}

var (
	_ Registrar = (*Registry)(nil)
	_ Registrar = (*Batch)(nil)
)

// Batch 暂存一次引导中的注册，提交前对读者不可见。可以被多个 goroutine 并发使用。
type Batch struct {
	r *Registry

	mu     sync.Mutex
	staged []*Registration
	closed bool
}

// Register 暂存一次注册。槽位会立即分配，注册在提交时才发布。
func (b *Batch) Register(key Key, factory Factory, opts ...Option) *Registration {
	reg := b.r.newRegistration(key, factory, applyOptions(opts))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("di: Bootstrap 已结束，不能继续注册")
	}
	b.staged = append(b.staged, reg)
	return reg
}

// Len 返回已暂存的注册数量。
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.staged)
}

func (b *Batch) drain() []*Registration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	staged := b.staged
	b.staged = nil
	return staged
}

// Bootstrap 执行 body 并把其中的全部注册作为一个快照发布。
//
// body 返回错误时所有暂存的注册被丢弃，注册表保持不变。
// 提交时注册按暂存顺序应用到当时最新的快照上，
// 因此 body 执行期间其他 goroutine 的注册不会丢失。
func (r *Registry) Bootstrap(body func(*Batch) error) error {
	b := &Batch{r: r}
	if err := body(b); err != nil {
		n := len(b.drain())
		r.logger.Warn("bootstrap rolled back",
			logging.Field{Key: "discarded", Value: n},
			logging.Field{Key: "error", Value: err})
		return err
	}
	r.commit(b.drain())
	return nil
}

// BootstrapAsync 与 Bootstrap 相同，但 body 接收 ctx 并可在多个 goroutine 中暂存注册。
// 只有 body 返回 nil 且 ctx 未结束时才提交。
func (r *Registry) BootstrapAsync(ctx context.Context, body func(context.Context, *Batch) error) error {
	b := &Batch{r: r}
	err := body(ctx, b)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		n := len(b.drain())
		r.logger.Warn("bootstrap rolled back",
			logging.Field{Key: "discarded", Value: n},
			logging.Field{Key: "error", Value: err})
		return err
	}
	r.commit(b.drain())
	return nil
}

func (r *Registry) commit(staged []*Registration) {
	if len(staged) == 0 {
		return
	}
	snap := r.publish(func(b *snapshotBuilder) {
		for _, reg := range staged {
			b.set(reg.slot, reg)
		}
	})
	r.logger.Debug("bootstrap committed",
		logging.Field{Key: "registrations", Value: len(staged)},
		logging.Field{Key: "version", Value: snap.version})
}
