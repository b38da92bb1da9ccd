package core

import (
	"reflect"
	"sort"
	"sync"

	"github.com/gocrud/weavedi/di"
)

// FeatureCollection 按具体类型存放构建时特性，例如配置根、调度器和 Web 主机。
// 特性只在组合阶段使用，不参与依赖解析。
type FeatureCollection struct {
	mu    sync.RWMutex
	items map[reflect.Type]any
}

// Set 保存特性，同一类型后设置的覆盖先设置的
func (fc *FeatureCollection) Set(feature any) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.items == nil {
		fc.items = make(map[reflect.Type]any)
	}
	fc.items[reflect.TypeOf(feature)] = feature
}

func (fc *FeatureCollection) Get(typ reflect.Type) (any, bool) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	v, ok := fc.items[typ]
	return v, ok
}

// Types 返回已保存的特性类型，按名称排序
func (fc *FeatureCollection) Types() []string {
	fc.mu.RLock()
	names := make([]string, 0, len(fc.items))
	for typ := range fc.items {
		names = append(names, typ.String())
	}
	fc.mu.RUnlock()
	sort.Strings(names)
	return names
}

// GetFeature 从 Runtime 获取类型为 T 的特性
func GetFeature[T any](rt *Runtime) (T, bool) {
	if v, ok := rt.Features.Get(di.TypeOf[T]()); ok {
		return v.(T), true
	}
	var zero T
	return zero, false
}
