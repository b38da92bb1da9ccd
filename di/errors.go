package di

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotRegistered 请求的 Key 没有注册。
	ErrNotRegistered = errors.New("di: 依赖未注册")
	// ErrCircularDependency 解析链重复访问了正在解析的 Key。
	ErrCircularDependency = errors.New("di: 循环依赖")
	// ErrScopeRequired 在没有对应作用域的情况下解析 Session/Request 服务。
	ErrScopeRequired = errors.New("di: 需要作用域")
	// ErrScopeDisposed 作用域已释放。
	ErrScopeDisposed = errors.New("di: 作用域已释放")
	// ErrNilInstance 工厂返回了 nil 实例。
	ErrNilInstance = errors.New("di: 工厂返回了 nil 实例")
)

// UnregisteredError 标识缺失的依赖以及请求它时的解析路径。
type UnregisteredError struct {
	Key  Key
	Path []Key
}

func (e *UnregisteredError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("di: 未找到服务 %v", e.Key)
	}
	return fmt.Sprintf("di: 未找到服务 %v (解析路径: %s)", e.Key, joinKeys(e.Path))
}

func (e *UnregisteredError) Is(target error) bool {
	return target == ErrNotRegistered
}

// CircularDependencyError 携带按顺序排列的循环，首尾是同一个 Key，
// 例如 [A, B, A]。
type CircularDependencyError struct {
	Cycle []Key
}

func (e *CircularDependencyError) Error() string {
	return "di: 检测到循环依赖: " + joinKeys(e.Cycle)
}

func (e *CircularDependencyError) Is(target error) bool {
	return target == ErrCircularDependency
}

// FactoryError 包装工厂返回的错误或 panic。
type FactoryError struct {
	Key Key
	Err error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("di: 构建 %v 失败: %v", e.Key, e.Err)
}

func (e *FactoryError) Unwrap() error {
	return e.Err
}

// wrapFactoryError 包装工厂错误。嵌套的 FactoryError 和循环依赖错误原样透传，
// 这样调用者看到的是最内层出错的 Key。
func wrapFactoryError(key Key, err error) error {
	var fe *FactoryError
	if errors.As(err, &fe) {
		return err
	}
	var ce *CircularDependencyError
	if errors.As(err, &ce) {
		return err
	}
	return &FactoryError{Key: key, Err: err}
}

func joinKeys(keys []Key) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, " -> ")
}
