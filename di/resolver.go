package di

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"

	"github.com/gocrud/weavedi/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Resolver 按 Key 解析实例。
//
// Registry、Scope 以及传给工厂的解析器都实现了该接口。
type Resolver interface {
	// Resolve 解析 key。未注册时返回 (nil, false, nil)。
	Resolve(ctx context.Context, key Key) (any, bool, error)
	// Require 解析 key。未注册时返回 *UnregisteredError。
	Require(ctx context.Context, key Key) (any, error)
	// IsRegistered 报告 key 是否已注册。
	IsRegistered(key Key) bool
}

// AsyncResolver 支持把工厂放到调用者 goroutine 之外执行。
type AsyncResolver interface {
	Resolver
	ResolveAsync(ctx context.Context, key Key) (any, bool, error)
}

// Resolve 解析 key。未注册时返回 (nil, false, nil)；
// 循环依赖、工厂失败、作用域错误通过 error 返回。
func (r *Registry) Resolve(ctx context.Context, key Key) (any, bool, error) {
	ctx = orBackground(ctx)
	return r.resolveIn(ctx, nil, chainFrom(ctx), key)
}

// Require 解析 key，未注册时返回带有 key 和解析路径的 *UnregisteredError。
// 缺失总会以 ERROR 级别记录；开发模式下直接 panic。
func (r *Registry) Require(ctx context.Context, key Key) (any, error) {
	ctx = orBackground(ctx)
	return r.require(ctx, nil, chainFrom(ctx), key)
}

// MustResolve 同 Require，但任何失败都会 panic。
func (r *Registry) MustResolve(ctx context.Context, key Key) any {
	v, err := r.Require(ctx, key)
	if err != nil {
		panic(err)
	}
	return v
}

// ResolveAsync 在独立 goroutine 上执行工厂并等待结果，ctx 取消时立即返回 ctx.Err()。
//
// 快照查找在调用者 goroutine 上同步完成，不持有任何锁；
// 已缓存的单例和 HintInline 的注册直接在调用者 goroutine 上完成。
// 取消不会回滚工厂的副作用，工厂会在后台继续运行到结束。
func (r *Registry) ResolveAsync(ctx context.Context, key Key) (any, bool, error) {
	ctx = orBackground(ctx)
	return r.resolveAsync(ctx, nil, chainFrom(ctx), key)
}

// ResolveAll 并发解析多个 key，任何一个失败（包括未注册）都会返回错误。
func (r *Registry) ResolveAll(ctx context.Context, keys ...Key) ([]any, error) {
	ctx = orBackground(ctx)
	return r.resolveAll(ctx, nil, chainFrom(ctx), keys)
}

// Warmup 并发构造当前快照中全部尚未创建的单例。
func (r *Registry) Warmup(ctx context.Context) error {
	g, gctx := errgroup.WithContext(orBackground(ctx))
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, reg := range r.Snapshot().Registrations() {
		if reg.scope != ScopeSingleton {
			continue
		}
		if _, ok := reg.cell.load(); ok {
			continue
		}
		key := reg.key
		g.Go(func() error {
			_, _, err := r.resolveIn(gctx, nil, nil, key)
			return err
		})
	}
	return g.Wait()
}

// orBackground 把 nil ctx 换成 context.Background()。
func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func (r *Registry) resolveIn(ctx context.Context, sc *Scope, ch *chain, key Key) (any, bool, error) {
	reg := r.lookup(key)
	if reg == nil {
		return nil, false, nil
	}

	v, err := r.instance(ctx, sc, ch, reg)
	if err != nil {
		if !r.settings.DisableStats {
			r.stats.failures.Add(1)
		}
		return nil, true, err
	}
	if !r.settings.DisableStats {
		r.stats.record(reg.slot)
	}
	return v, true, nil
}

func (r *Registry) require(ctx context.Context, sc *Scope, ch *chain, key Key) (any, error) {
	v, ok, err := r.resolveIn(ctx, sc, ch, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		uerr := &UnregisteredError{Key: key, Path: ch.keys()}
		r.logger.Error("required dependency not registered",
			logging.Field{Key: "key", Value: key.String()},
			logging.Field{Key: "path", Value: joinKeys(uerr.Path)})
		if r.settings.Development {
			panic(uerr)
		}
		return nil, uerr
	}
	return v, nil
}

func (r *Registry) resolveAsync(ctx context.Context, sc *Scope, ch *chain, key Key) (any, bool, error) {
	reg := r.lookup(key)
	if reg == nil {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, true, err
	}

	if reg.scope == ScopeSingleton {
		if v, ok := reg.cell.load(); ok {
			if !r.settings.DisableStats {
				r.stats.record(reg.slot)
			}
			return v, true, nil
		}
	}
	if reg.hint == HintInline {
		return r.resolveIn(ctx, sc, ch, key)
	}

	type result struct {
		v   any
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, ok, err := r.resolveIn(ctx, sc, ch, key)
		done <- result{v: v, ok: ok, err: err}
	}()

	select {
	case res := <-done:
		return res.v, res.ok, res.err
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}
}

func (r *Registry) resolveAll(ctx context.Context, sc *Scope, ch *chain, keys []Key) ([]any, error) {
	out := make([]any, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		g.Go(func() error {
			v, err := r.require(gctx, sc, ch, key)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// instance 按生命周期取得或创建 reg 的实例。
func (r *Registry) instance(ctx context.Context, sc *Scope, ch *chain, reg *Registration) (any, error) {
	switch reg.scope {
	case ScopeSingleton:
		// 快速路径：已安装的单例直接返回，不调用工厂
		if v, ok := reg.cell.load(); ok {
			return v, nil
		}
		next, err := r.enter(ch, reg)
		if err != nil {
			return nil, err
		}
		if r.settings.SingletonPolicy == PolicyExactlyOnce {
			return r.singletonOnce(ctx, next, reg)
		}
		return r.singleton(ctx, next, reg)

	case ScopeTransient:
		next, err := r.enter(ch, reg)
		if err != nil {
			return nil, err
		}
		return r.construct(ctx, sc, next, reg)

	case ScopeSession, ScopeRequest:
		target := sc.find(reg.scope)
		if target == nil {
			return nil, fmt.Errorf("%w: %v 的生命周期为 %s", ErrScopeRequired, reg.key, reg.scope)
		}
		return target.instance(ctx, ch, reg)
	}

	return nil, fmt.Errorf("di: 未知作用域 %v", reg.scope)
}

// singleton 构造并尝试安装实例。并发的首次构造都可能执行工厂，
// 先安装者胜出，落败者返回胜出的实例。
func (r *Registry) singleton(ctx context.Context, ch *chain, reg *Registration) (any, error) {
	v, err := r.construct(ctx, nil, ch, reg)
	if err != nil {
		return nil, err
	}
	winner, won := reg.cell.install(v)
	if !won {
		r.stats.redundant.Add(1)
		r.logger.Debug("redundant singleton construction discarded",
			logging.Field{Key: "key", Value: reg.key.String()})
	}
	return winner, nil
}

// singletonOnce 通过 singleflight 合并同一注册的并发首次构造。
// 合并的调用共享第一个调用者的 ctx。
// 加入别人的构造前先检查等待图，两个 goroutine 交叉等待时返回循环依赖错误。
func (r *Registry) singletonOnce(ctx context.Context, ch *chain, reg *Registration) (any, error) {
	release, err := ch.parent.await(&reg.wait)
	if err != nil {
		return nil, r.noteCycle(err)
	}
	defer release()

	flight := fmt.Sprintf("%d:%p", reg.slot, reg)
	v, err, _ := r.flights.Do(flight, func() (any, error) {
		release()
		defer reg.wait.lead(ch)()

		if v, ok := reg.cell.load(); ok {
			return v, nil
		}
		v, err := r.construct(ctx, nil, ch, reg)
		if err != nil {
			return nil, err
		}
		winner, _ := reg.cell.install(v)
		return winner, nil
	})
	return v, err
}

// enter 把 reg 压入解析链，检测到循环时记录并返回错误。
func (r *Registry) enter(ch *chain, reg *Registration) (*chain, error) {
	next, err := ch.enter(reg.slot, reg.key)
	if err != nil {
		return nil, r.noteCycle(err)
	}
	return next, nil
}

// noteCycle 记录循环依赖错误并原样返回 err。
func (r *Registry) noteCycle(err error) error {
	var ce *CircularDependencyError
	if errors.As(err, &ce) {
		r.cycles.add(ce.Cycle)
		if !r.settings.DisableStats {
			r.stats.cycles.Add(1)
		}
		r.logger.Warn("circular dependency detected",
			logging.Field{Key: "cycle", Value: joinKeys(ce.Cycle)})
	}
	return err
}

// construct 调用工厂。ctx 上挂载解析链，工厂拿到的 Resolver 绑定同一条链。
func (r *Registry) construct(ctx context.Context, sc *Scope, ch *chain, reg *Registration) (v any, err error) {
	ctx = withChain(ctx, ch)
	ctx, span := r.tracer.Start(ctx, "di.construct", trace.WithAttributes(
		attribute.String("di.key", reg.key.String()),
		attribute.String("di.scope", reg.scope.String()),
		attribute.Int("di.depth", ch.depth),
	))

	defer func() {
		if p := recover(); p != nil {
			if perr, ok := p.(error); ok {
				err = wrapFactoryError(reg.key, perr)
			} else {
				err = &FactoryError{Key: reg.key, Err: fmt.Errorf("panic: %v", p)}
			}
			v = nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	v, err = reg.factory(ctx, &boundResolver{r: r, scope: sc, chain: ch})
	if err != nil {
		return nil, wrapFactoryError(reg.key, err)
	}
	if isNil(v) {
		return nil, &FactoryError{Key: reg.key, Err: ErrNilInstance}
	}
	return v, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// boundResolver 是传给工厂的解析器，绑定了调用方的作用域和解析链。
// 即使工厂换用别的 ctx 调用它，循环检测依然有效。
type boundResolver struct {
	r     *Registry
	scope *Scope
	chain *chain
}

func (b *boundResolver) Resolve(ctx context.Context, key Key) (any, bool, error) {
	ctx = orBackground(ctx)
	return b.r.resolveIn(ctx, b.scope, b.chain, key)
}

func (b *boundResolver) Require(ctx context.Context, key Key) (any, error) {
	ctx = orBackground(ctx)
	return b.r.require(ctx, b.scope, b.chain, key)
}

func (b *boundResolver) IsRegistered(key Key) bool {
	return b.r.IsRegistered(key)
}

func (b *boundResolver) ResolveAsync(ctx context.Context, key Key) (any, bool, error) {
	ctx = orBackground(ctx)
	return b.r.resolveAsync(ctx, b.scope, b.chain, key)
}
