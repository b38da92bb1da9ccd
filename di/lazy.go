package di

import (
	"context"
	"sync"
)

// Lazy 是一个延迟解析的注入点：首次 Get 时解析并缓存结果。
// 解析失败不会被缓存，下一次 Get 会重试。
//
//	type Handler struct {
//		users di.Lazy[*UserService]
//	}
//
//	h := &Handler{users: di.NewLazy[*UserService](reg)}
//	svc, err := h.users.Get(ctx)
type Lazy[T any] struct {
	r   Resolver
	key Key

	mu    sync.Mutex
	value T
	done  bool
}

// NewLazy 创建类型 T 的延迟注入点。可通过 WithName 指定名称。
func NewLazy[T any](r Resolver, opts ...Option) *Lazy[T] {
	return &Lazy[T]{r: r, key: NewKey(TypeOf[T](), applyOptions(opts).name)}
}

// Key 返回注入点对应的 Key。
func (l *Lazy[T]) Key() Key {
	return l.key
}

// Get 返回实例，首次调用时解析。
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return l.value, nil
	}
	v, err := requireKey[T](ctx, l.r, l.key)
	if err != nil {
		return v, err
	}
	l.value, l.done = v, true
	return v, nil
}

// MustGet 同 Get，失败时 panic。
func (l *Lazy[T]) MustGet(ctx context.Context) T {
	v, err := l.Get(ctx)
	if err != nil {
		panic(err)
	}
	return v
}

// Resolved 报告是否已经解析过。
func (l *Lazy[T]) Resolved() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}
