package di

import (
	"context"
	"sync/atomic"
)

var defaultRegistry atomic.Pointer[Registry]

func init() {
	defaultRegistry.Store(New())
}

// Default 返回进程级默认注册表。
//
// 默认注册表只是便利入口；需要隔离的代码（尤其是测试）应显式创建 Registry。
func Default() *Registry {
	return defaultRegistry.Load()
}

// SetDefault 替换默认注册表并返回旧的注册表。
func SetDefault(r *Registry) *Registry {
	if r == nil {
		panic("di: SetDefault 的注册表为 nil")
	}
	return defaultRegistry.Swap(r)
}

// Inject 从默认注册表中解析类型 T，失败时 panic。
// 可以传入 Token 按名称注入：
//
//	svc := di.Inject[*UserService]()
//	dsn := di.Inject[string](DBConnectionString)
func Inject[T any](token ...*Token[T]) T {
	v, err := TryInject(token...)
	if err != nil {
		panic("di.Inject failed: " + err.Error())
	}
	return v
}

// TryInject 从默认注册表中解析类型 T，返回实例和错误。
func TryInject[T any](token ...*Token[T]) (T, error) {
	key := KeyOf[T]()
	if len(token) > 0 && token[0] != nil {
		key = token[0].Key()
	}
	return requireKey[T](context.Background(), Default(), key)
}

// InjectOrDefault 从默认注册表中解析类型 T，未注册或失败时返回 defaultValue。
// 缺失不会被记录为错误。
func InjectOrDefault[T any](defaultValue T, token ...*Token[T]) T {
	key := KeyOf[T]()
	if len(token) > 0 && token[0] != nil {
		key = token[0].Key()
	}
	v, ok, err := resolveKey[T](context.Background(), Default(), key)
	if err != nil || !ok {
		return defaultValue
	}
	return v
}
