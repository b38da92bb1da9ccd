package config

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Monitor 持有某个配置节绑定后的最新值
//
// 根配置重新加载后 Monitor 重新绑定并校验；失败时保留旧值，错误可通过 Err 取得。
type Monitor[T any] struct {
	cfg      Configuration
	section  string
	defaults T
	validate func(T) error

	current atomic.Pointer[T]
	lastErr atomic.Pointer[error]

	mu        sync.Mutex
	listeners []func(old, cur T)
}

// NewMonitor 绑定 section 并在 root 重新加载时自动刷新
// 每次绑定都从 defaults 开始，配置中缺失的字段保持默认值。validate 可以为 nil。
func NewMonitor[T any](root *Root, section string, defaults T, validate func(T) error) (*Monitor[T], error) {
	m := &Monitor[T]{cfg: root, section: section, defaults: defaults, validate: validate}
	v, err := m.bind()
	if err != nil {
		return nil, err
	}
	m.current.Store(&v)
	root.OnReload(m.reload)
	return m, nil
}

// Get 返回当前值
func (m *Monitor[T]) Get() T {
	return *m.current.Load()
}

// Err 返回最近一次刷新失败的错误，成功刷新后清空
func (m *Monitor[T]) Err() error {
	if p := m.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// OnChange 注册刷新成功后的回调
func (m *Monitor[T]) OnChange(fn func(old, cur T)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Monitor[T]) bind() (T, error) {
	v := m.defaults
	if m.cfg.Exists(m.section) {
		if err := m.cfg.Bind(m.section, &v); err != nil {
			return v, err
		}
	}
	if m.validate != nil {
		if err := m.validate(v); err != nil {
			return v, err
		}
	}
	return v, nil
}

func (m *Monitor[T]) reload() {
	v, err := m.bind()
	if err != nil {
		m.lastErr.Store(&err)
		return
	}
	m.lastErr.Store(nil)
	old := m.current.Swap(&v)

	m.mu.Lock()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(*old, v)
	}
}
