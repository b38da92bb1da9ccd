// Package ditest 提供测试中使用独立注册表的辅助函数。
package ditest

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/gocrud/weavedi/di"
	"github.com/stretchr/testify/assert"
)

// New 创建测试专用的注册表，测试结束时重置并关闭。
func New(t testing.TB, opts ...di.RegistryOption) *di.Registry {
	t.Helper()
	reg := di.New(opts...)
	t.Cleanup(func() {
		reg.ResetForTesting()
		_ = reg.Close()
	})
	return reg
}

// UseDefault 在测试期间把 reg 设为默认注册表，结束时恢复。
func UseDefault(t testing.TB, reg *di.Registry) {
	t.Helper()
	prev := di.SetDefault(reg)
	t.Cleanup(func() {
		di.SetDefault(prev)
	})
}

// Counter 返回一个计数工厂：每次调用返回一个新的 *int64，值为调用序号。
func Counter() (di.Factory, *atomic.Int64) {
	n := new(atomic.Int64)
	return func(context.Context, di.Resolver) (any, error) {
		v := n.Add(1)
		return &v, nil
	}, n
}

// AssertCycle 断言 err 是给定顺序的循环依赖。
func AssertCycle(t testing.TB, err error, keys ...di.Key) bool {
	t.Helper()
	var ce *di.CircularDependencyError
	if !assert.ErrorAs(t, err, &ce) {
		return false
	}
	return assert.Equal(t, keys, ce.Cycle)
}

// AssertUnregistered 断言 err 是缺失 key 的错误。
func AssertUnregistered(t testing.TB, err error, key di.Key) bool {
	t.Helper()
	var ue *di.UnregisteredError
	if !assert.ErrorAs(t, err, &ue) {
		return false
	}
	return assert.Equal(t, key, ue.Key)
}
