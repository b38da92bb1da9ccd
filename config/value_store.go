package config

import "sync/atomic"

type generation struct {
	data map[string]any
	seq  uint64
}

// ValueStore 原子地保存配置数据和它的代数，读取无锁。
// 存入的 map 之后不再修改，重新加载时整体替换。
type ValueStore struct {
	current atomic.Pointer[generation]
}

func NewValueStore() *ValueStore {
	s := &ValueStore{}
	s.current.Store(&generation{data: map[string]any{}})
	return s
}

// Load 返回当前配置快照，调用者不得修改
func (s *ValueStore) Load() map[string]any {
	return s.current.Load().data
}

// Generation 返回 Store 成功的次数
func (s *ValueStore) Generation() uint64 {
	return s.current.Load().seq
}

// Store 替换配置数据并返回新的代数。并发调用由 Root 的 reloadMu 串行化。
func (s *ValueStore) Store(data map[string]any) uint64 {
	next := &generation{data: data, seq: s.current.Load().seq + 1}
	s.current.Store(next)
	return next.seq
}
