package di

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gocrud/weavedi/logging"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Scope 是会话或请求的生命周期上下文。
//
// Session 服务在会话作用域内只创建一次，Request 服务在请求作用域内只创建一次。
// 请求作用域可以嵌套在会话作用域中，此时请求内也能解析 Session 服务。
type Scope struct {
	reg    *Registry
	kind   ScopeType
	id     string
	parent *Scope

	mu      sync.Mutex
	entries map[int]*scopeEntry
	order   []*scopeEntry // 按创建顺序

	disposed atomic.Bool
}

type scopeEntry struct {
	box  atomic.Pointer[scopeBox]
	mu   sync.Mutex // 用于创建此特定实例的锁
	wait waitNode
}

// scopeBox 记录实例以及创建它的注册。
// 注册被替换后旧实例不再有效，下次解析时重建。
type scopeBox struct {
	reg   *Registration
	value any
}

// NewSession 创建会话作用域。id 为空时生成 UUID。
func (r *Registry) NewSession(id string) *Scope {
	return r.newScope(ScopeSession, id, nil)
}

// NewRequest 创建独立的请求作用域。id 为空时生成 UUID。
func (r *Registry) NewRequest(id string) *Scope {
	return r.newScope(ScopeRequest, id, nil)
}

// NewRequest 在会话内创建请求作用域。
func (s *Scope) NewRequest(id string) *Scope {
	return s.reg.newScope(ScopeRequest, id, s)
}

func (r *Registry) newScope(kind ScopeType, id string, parent *Scope) *Scope {
	if id == "" {
		id = uuid.NewString()
	}
	s := &Scope{
		reg:     r,
		kind:    kind,
		id:      id,
		parent:  parent,
		entries: make(map[int]*scopeEntry),
	}
	r.logger.Trace("scope created",
		logging.Field{Key: "kind", Value: kind.String()},
		logging.Field{Key: "id", Value: id})
	return s
}

// ID 返回作用域标识。
func (s *Scope) ID() string { return s.id }

// Kind 返回 ScopeSession 或 ScopeRequest。
func (s *Scope) Kind() ScopeType { return s.kind }

// Parent 返回外层作用域，没有时为 nil。
func (s *Scope) Parent() *Scope { return s.parent }

// Registry 返回作用域所属的注册表。
func (s *Scope) Registry() *Registry { return s.reg }

// Resolve 在该作用域内解析 key。
func (s *Scope) Resolve(ctx context.Context, key Key) (any, bool, error) {
	ctx = orBackground(ctx)
	return s.reg.resolveIn(ctx, s, chainFrom(ctx), key)
}

// Require 在该作用域内解析 key，未注册时返回 *UnregisteredError。
func (s *Scope) Require(ctx context.Context, key Key) (any, error) {
	ctx = orBackground(ctx)
	return s.reg.require(ctx, s, chainFrom(ctx), key)
}

// ResolveAsync 在该作用域内异步解析 key。
func (s *Scope) ResolveAsync(ctx context.Context, key Key) (any, bool, error) {
	ctx = orBackground(ctx)
	return s.reg.resolveAsync(ctx, s, chainFrom(ctx), key)
}

// IsRegistered 报告 key 是否已注册。
func (s *Scope) IsRegistered(key Key) bool {
	return s.reg.IsRegistered(key)
}

// Disposed 报告作用域是否已释放。
func (s *Scope) Disposed() bool {
	return s.disposed.Load()
}

// Dispose 释放作用域：按创建顺序的逆序关闭实现了 io.Closer 的实例。
// 释放后的作用域拒绝解析。重复调用返回 nil。
func (s *Scope) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	order := s.order
	s.order = nil
	s.entries = make(map[int]*scopeEntry)
	s.mu.Unlock()

	var err error
	for i := len(order) - 1; i >= 0; i-- {
		box := order[i].box.Load()
		if box == nil {
			continue
		}
		if c, ok := box.value.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("di: 关闭 %v 失败: %w", box.reg.key, cerr))
			}
		}
	}

	s.reg.logger.Trace("scope disposed",
		logging.Field{Key: "kind", Value: s.kind.String()},
		logging.Field{Key: "id", Value: s.id},
		logging.Field{Key: "instances", Value: len(order)})
	return err
}

// find 从当前作用域向外查找指定类型的作用域。nil 安全。
func (s *Scope) find(kind ScopeType) *Scope {
	for n := s; n != nil; n = n.parent {
		if n.kind == kind {
			return n
		}
	}
	return nil
}

func (s *Scope) entry(slot int) *scopeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[slot]
	if !ok {
		e = &scopeEntry{}
		s.entries[slot] = e
	}
	return e
}

// instance 取得或创建 reg 在本作用域内的实例。
func (s *Scope) instance(ctx context.Context, ch *chain, reg *Registration) (any, error) {
	if s.disposed.Load() {
		return nil, fmt.Errorf("%w: %s %s", ErrScopeDisposed, s.kind, s.id)
	}

	e := s.entry(reg.slot)

	// 快速路径：检查是否已创建
	if box := e.box.Load(); box != nil && box.reg == reg {
		return box.value, nil
	}

	// 先入链再加锁，同一 goroutine 内的循环会在这里报错而不是死锁
	next, err := s.reg.enter(ch, reg)
	if err != nil {
		return nil, err
	}

	// 跨 goroutine 的交叉等待由等待图检测
	release, err := ch.await(&e.wait)
	if err != nil {
		return nil, s.reg.noteCycle(err)
	}
	e.mu.Lock()
	release()
	defer e.mu.Unlock()
	defer e.wait.lead(next)()

	// 双重检查
	if box := e.box.Load(); box != nil && box.reg == reg {
		return box.value, nil
	}

	v, err := s.reg.construct(ctx, s, next, reg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.disposed.Load() {
		s.mu.Unlock()
		s.discard(reg, v)
		return nil, fmt.Errorf("%w: %s %s", ErrScopeDisposed, s.kind, s.id)
	}
	fresh := e.box.Load() == nil
	e.box.Store(&scopeBox{reg: reg, value: v})
	if fresh {
		s.order = append(s.order, e)
	}
	s.mu.Unlock()
	return v, nil
}

// discard 关闭在作用域释放之后才构造完成的实例。
func (s *Scope) discard(reg *Registration, v any) {
	c, ok := v.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		s.reg.logger.Warn("closing instance built after dispose failed",
			logging.Field{Key: "key", Value: reg.key.String()},
			logging.Field{Key: "error", Value: err})
	}
}
