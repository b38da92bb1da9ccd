package di

import (
	"context"
	"fmt"
)

// Register 以类型 T（以及 WithName 给出的名称）注册工厂。
func Register[T any](reg Registrar, factory func(ctx context.Context, r Resolver) (T, error), opts ...Option) Key {
	key := NewKey(TypeOf[T](), applyOptions(opts).name)
	reg.Register(key, func(ctx context.Context, r Resolver) (any, error) {
		v, err := factory(ctx, r)
		if err != nil {
			return nil, err
		}
		return v, nil
	}, opts...)
	return key
}

// RegisterValue 将已创建的实例注册为类型 T 的单例。
func RegisterValue[T any](reg Registrar, value T, opts ...Option) Key {
	key := NewKey(TypeOf[T](), applyOptions(opts).name)
	reg.Register(key, nil, append(opts, WithValue(value))...)
	return key
}

// Resolve 解析类型 T 的默认实例。未注册时 ok 为 false。
func Resolve[T any](ctx context.Context, r Resolver) (T, bool, error) {
	return resolveKey[T](ctx, r, KeyOf[T]())
}

// ResolveNamed 解析类型 T 在指定名称下的实例。
func ResolveNamed[T any](ctx context.Context, r Resolver, name string) (T, bool, error) {
	return resolveKey[T](ctx, r, NamedKey[T](name))
}

// ResolveToken 通过 Token 解析实例，未注册时返回 *UnregisteredError。
func ResolveToken[T any](ctx context.Context, r Resolver, token *Token[T]) (T, error) {
	return requireKey[T](ctx, r, token.Key())
}

// Require 解析类型 T，未注册时返回 *UnregisteredError。
func Require[T any](ctx context.Context, r Resolver, opts ...Option) (T, error) {
	return requireKey[T](ctx, r, NewKey(TypeOf[T](), applyOptions(opts).name))
}

// MustResolve 解析类型 T，任何失败都会 panic。
func MustResolve[T any](ctx context.Context, r Resolver, opts ...Option) T {
	v, err := Require[T](ctx, r, opts...)
	if err != nil {
		panic(err)
	}
	return v
}

// ResolveAsync 异步解析类型 T 的默认实例。
func ResolveAsync[T any](ctx context.Context, r AsyncResolver) (T, bool, error) {
	var zero T
	v, ok, err := r.ResolveAsync(ctx, KeyOf[T]())
	if err != nil || !ok {
		return zero, ok, err
	}
	t, err := assertType[T](v)
	return t, true, err
}

// IsRegistered 报告类型 T 是否已注册。
func IsRegistered[T any](r Resolver, opts ...Option) bool {
	return r.IsRegistered(NewKey(TypeOf[T](), applyOptions(opts).name))
}

func resolveKey[T any](ctx context.Context, r Resolver, key Key) (T, bool, error) {
	var zero T
	v, ok, err := r.Resolve(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}
	t, err := assertType[T](v)
	return t, true, err
}

func requireKey[T any](ctx context.Context, r Resolver, key Key) (T, error) {
	var zero T
	v, err := r.Require(ctx, key)
	if err != nil {
		return zero, err
	}
	return assertType[T](v)
}

func assertType[T any](v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("di: 解析到 %T，期望 %v", v, TypeOf[T]())
	}
	return t, nil
}
