package di

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// ScopeType 定义了服务的生命周期。
type ScopeType int

const (
	// ScopeSingleton 每个注册创建一个实例（默认）。
	// 实例一旦安装就不会被替换，除非重新注册。
	ScopeSingleton ScopeType = iota
	// ScopeTransient 每次请求创建一个新实例。
	ScopeTransient
	// ScopeSession 每个会话作用域创建一个实例。
	ScopeSession
	// ScopeRequest 每个请求作用域创建一个实例。
	ScopeRequest
)

func (s ScopeType) String() string {
	switch s {
	case ScopeSingleton:
		return "singleton"
	case ScopeTransient:
		return "transient"
	case ScopeSession:
		return "session"
	case ScopeRequest:
		return "request"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ExecutionHint 是附加在注册上的建议性执行上下文提示。
// 只影响 ResolveAsync：同步解析总是在调用者的 goroutine 上执行工厂。
type ExecutionHint int

const (
	// HintNone 不做偏好。
	HintNone ExecutionHint = iota
	// HintInline 即使异步解析也在调用者 goroutine 上执行工厂，
	// 适合构造代价极低或必须在调用方上下文执行的服务。
	HintInline
	// HintBackground 异步解析时总是切换到独立 goroutine。
	HintBackground
)

func (h ExecutionHint) String() string {
	switch h {
	case HintInline:
		return "inline"
	case HintBackground:
		return "background"
	default:
		return "none"
	}
}

// Factory 创建服务实例。
//
// ctx 携带当前解析链；r 是绑定到该解析链的 Resolver，
// 工厂内部的嵌套解析必须通过 r（或 ctx）完成，循环依赖才能被检测到。
type Factory func(ctx context.Context, r Resolver) (any, error)

// Registration 是某个槽位上的一次注册：工厂、生命周期和可选的缓存实例。
//
// Registration 发布后不可变。单例的缓存单元只允许安装一次（先写者胜）；
// 重新注册同一个 Key 会创建新的 Registration 和新的缓存单元。
type Registration struct {
	slot         int
	key          Key
	scope        ScopeType
	hint         ExecutionHint
	factory      Factory
	deps         []Key
	registeredAt time.Time

	cell *instanceCell
	wait waitNode
}

// Key 返回注册的 Key。
func (r *Registration) Key() Key { return r.key }

// Slot 返回注册所在的槽位。
func (r *Registration) Slot() int { return r.slot }

// Scope 返回注册的生命周期。
func (r *Registration) Scope() ScopeType { return r.scope }

// Hint 返回执行上下文提示。
func (r *Registration) Hint() ExecutionHint { return r.hint }

// RegisteredAt 返回注册时间。
func (r *Registration) RegisteredAt() time.Time { return r.registeredAt }

// Dependencies 返回声明的静态依赖（构造函数参数和 WithDependsOn）。
func (r *Registration) Dependencies() []Key {
	out := make([]Key, len(r.deps))
	copy(out, r.deps)
	return out
}

// Cached 返回已安装的单例实例。
func (r *Registration) Cached() (any, bool) {
	if r.cell == nil {
		return nil, false
	}
	return r.cell.load()
}

// instanceCell 保存单例实例，只能从空安装一次。
type instanceCell struct {
	p atomic.Pointer[instanceBox]
}

type instanceBox struct {
	value any
}

func (c *instanceCell) load() (any, bool) {
	if b := c.p.Load(); b != nil {
		return b.value, true
	}
	return nil, false
}

// install 尝试安装 v。返回最终生效的实例，以及本次调用是否胜出。
func (c *instanceCell) install(v any) (any, bool) {
	if c.p.CompareAndSwap(nil, &instanceBox{value: v}) {
		return v, true
	}
	return c.p.Load().value, false
}
