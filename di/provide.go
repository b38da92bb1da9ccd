package di

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	resolverType = reflect.TypeOf((*Resolver)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
)

// Provide 通过反射注册构造函数或结构体指针。
//
// 构造函数形如 func(deps...) T 或 func(deps...) (T, error)，注册到 T 的 Key 上。
// 参数按类型解析；context.Context 参数接收解析上下文，di.Resolver 参数接收绑定的解析器。
//
// 结构体指针注册为单例，带 `di` 标签的导出字段在首次解析时注入：
//
//	type UserService struct {
//		Repo  *UserRepo `di:""`
//		Audit Logger    `di:"audit,optional"`
//	}
//
//	di.Provide(reg, NewUserRepo)
//	di.Provide(reg, &UserService{})
func Provide(reg Registrar, target any, opts ...Option) (Key, error) {
	if target == nil {
		return Key{}, fmt.Errorf("di: Provide 的目标为 nil")
	}
	cfg := applyOptions(opts)
	v := reflect.ValueOf(target)

	switch v.Kind() {
	case reflect.Func:
		return provideFunc(reg, v, cfg.name, opts)
	case reflect.Pointer:
		if v.Elem().Kind() == reflect.Struct {
			return provideStruct(reg, v, cfg.name, opts)
		}
	}
	return Key{}, fmt.Errorf("di: Provide 期望构造函数或结构体指针，得到 %T", target)
}

// MustProvide 同 Provide，失败时 panic。
func MustProvide(reg Registrar, target any, opts ...Option) Key {
	key, err := Provide(reg, target, opts...)
	if err != nil {
		panic(err)
	}
	return key
}

func provideFunc(reg Registrar, fn reflect.Value, name string, opts []Option) (Key, error) {
	fnType := fn.Type()
	switch {
	case fnType.NumOut() == 1:
	case fnType.NumOut() == 2 && fnType.Out(1) == errorType:
	default:
		return Key{}, fmt.Errorf("di: 构造函数必须返回 T 或 (T, error)，得到 %v", fnType)
	}
	if fnType.IsVariadic() {
		return Key{}, fmt.Errorf("di: 不支持可变参数构造函数 %v", fnType)
	}

	key := NewKey(fnType.Out(0), name)

	args := make([]reflect.Type, fnType.NumIn())
	var deps []Key
	for i := range args {
		args[i] = fnType.In(i)
		if args[i] == contextType || args[i] == resolverType {
			continue
		}
		dep := NewKey(args[i], "")
		if dep == key {
			return Key{}, &CircularDependencyError{Cycle: []Key{key, key}}
		}
		deps = append(deps, dep)
	}

	factory := func(ctx context.Context, r Resolver) (any, error) {
		in := make([]reflect.Value, len(args))
		for i, t := range args {
			switch t {
			case contextType:
				in[i] = reflect.ValueOf(&ctx).Elem()
			case resolverType:
				in[i] = reflect.ValueOf(&r).Elem()
			default:
				dep, err := r.Require(ctx, NewKey(t, ""))
				if err != nil {
					return nil, err
				}
				in[i] = reflect.ValueOf(dep)
			}
		}
		return call(fn, in)
	}

	opts = append(opts, WithDependsOn(deps...))
	reg.Register(key, factory, opts...)
	return key, nil
}

// call 调用构造函数并检查返回的 error 和 nil 实例。
func call(fn reflect.Value, in []reflect.Value) (any, error) {
	out := fn.Call(in)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	if out[0].Kind() == reflect.Interface && out[0].IsNil() {
		return nil, ErrNilInstance
	}
	return out[0].Interface(), nil
}

func provideStruct(reg Registrar, ptr reflect.Value, name string, opts []Option) (Key, error) {
	fields, err := analyzeStruct(ptr.Type().Elem())
	if err != nil {
		return Key{}, err
	}

	key := NewKey(ptr.Type(), name)
	var deps []Key
	for _, f := range fields {
		if !f.optional {
			deps = append(deps, f.key)
		}
	}

	// 实例是调用方传入的同一个指针，字段注入成功一次后不再重复；
	// 并发的首次解析和 Reconfigure 重放都直接返回已注入的实例，失败则下次重试
	instance := ptr.Interface()
	var (
		mu       sync.Mutex
		injected bool
	)
	factory := func(ctx context.Context, r Resolver) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		if !injected {
			if err := injectFields(ctx, r, ptr.Elem(), fields); err != nil {
				return nil, err
			}
			injected = true
		}
		return instance, nil
	}

	opts = append(opts, WithSingleton(), WithDependsOn(deps...))
	reg.Register(key, factory, opts...)
	return key, nil
}

// InjectFields 为 target（结构体指针）中带 `di` 标签的字段注入依赖。
func InjectFields(ctx context.Context, r Resolver, target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("di: InjectFields 期望非 nil 结构体指针，得到 %T", target)
	}
	fields, err := analyzeStruct(v.Type().Elem())
	if err != nil {
		return err
	}
	return injectFields(ctx, r, v.Elem(), fields)
}

type fieldInjection struct {
	index    int
	name     string
	key      Key
	optional bool
}

// analyzeStruct 解析 `di:"name,optional"` 标签。
// `di:""` 按类型注入，`di:"?"` 或 `di:"optional"` 表示无名称的可选依赖。
func analyzeStruct(typ reflect.Type) ([]fieldInjection, error) {
	var fields []fieldInjection
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag, ok := field.Tag.Lookup("di")
		if !ok {
			continue
		}
		if !field.IsExported() {
			return nil, fmt.Errorf("di: %v.%s 带有 di 标签但未导出", typ, field.Name)
		}

		parts := strings.Split(tag, ",")
		name := strings.TrimSpace(parts[0])
		optional := false
		if name == "?" || name == "optional" {
			name = ""
			optional = true
		}
		for _, part := range parts[1:] {
			switch strings.TrimSpace(part) {
			case "optional", "?":
				optional = true
			}
		}

		fields = append(fields, fieldInjection{
			index:    i,
			name:     field.Name,
			key:      NewKey(field.Type, name),
			optional: optional,
		})
	}
	return fields, nil
}

func injectFields(ctx context.Context, r Resolver, elem reflect.Value, fields []fieldInjection) error {
	for _, f := range fields {
		var (
			v   any
			err error
		)
		if f.optional {
			var ok bool
			v, ok, err = r.Resolve(ctx, f.key)
			if err == nil && !ok {
				continue
			}
		} else {
			v, err = r.Require(ctx, f.key)
		}
		if err != nil {
			return fmt.Errorf("di: 注入字段 %s 失败: %w", f.name, err)
		}
		elem.Field(f.index).Set(reflect.ValueOf(v))
	}
	return nil
}
