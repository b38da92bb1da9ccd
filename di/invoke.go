package di

import (
	"context"
	"fmt"
	"reflect"
)

// Invoke 调用 fn 并按参数类型注入依赖。
//
// fn 可以没有返回值，或者只返回一个 error。参数规则与 Provide 的构造函数相同：
// context.Context 接收 ctx，di.Resolver 接收 r，其余参数通过 Require 解析。
//
//	err := di.Invoke(ctx, reg, func(svc *UserService, logger logging.Logger) error {
//		return svc.Migrate()
//	})
func Invoke(ctx context.Context, r Resolver, fn any) error {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("di: Invoke 期望函数，得到 %T", fn)
	}
	typ := v.Type()
	if typ.IsVariadic() {
		return fmt.Errorf("di: 不支持可变参数函数 %v", typ)
	}
	switch {
	case typ.NumOut() == 0:
	case typ.NumOut() == 1 && typ.Out(0) == errorType:
	default:
		return fmt.Errorf("di: Invoke 的函数只能返回 error，得到 %v", typ)
	}

	in := make([]reflect.Value, typ.NumIn())
	for i := range in {
		t := typ.In(i)
		switch t {
		case contextType:
			in[i] = reflect.ValueOf(&ctx).Elem()
		case resolverType:
			in[i] = reflect.ValueOf(&r).Elem()
		default:
			dep, err := r.Require(ctx, NewKey(t, ""))
			if err != nil {
				return fmt.Errorf("di: Invoke 参数 %d (%v): %w", i, t, err)
			}
			in[i] = reflect.ValueOf(dep)
		}
	}

	out := v.Call(in)
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}
