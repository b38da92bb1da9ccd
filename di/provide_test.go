package di_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/di/ditest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Greeter interface {
	Greet() string
}

type englishGreeter struct{ cfg *Config }

func (g *englishGreeter) Greet() string { return "hello " + g.cfg.DSN }

func NewGreeter(cfg *Config) Greeter {
	return &englishGreeter{cfg: cfg}
}

func NewRepo(ctx context.Context, cfg *Config) (*Repo, error) {
	if ctx == nil {
		return nil, errors.New("missing ctx")
	}
	return &Repo{Cfg: cfg}, nil
}

type Handler struct {
	Greeter Greeter `di:""`
	Repo    *Repo   `di:""`
	Audit   Greeter `di:"audit,optional"`
	Missing *Config `di:"missing,?"`
	Plain   string
}

func TestProvide_Constructors(t *testing.T) {
	reg := ditest.New(t)
	di.RegisterValue(reg, &Config{DSN: "db"})

	greeterKey, err := di.Provide(reg, NewGreeter)
	require.NoError(t, err)
	assert.Equal(t, di.KeyOf[Greeter](), greeterKey)

	_, err = di.Provide(reg, NewRepo, di.WithTransient())
	require.NoError(t, err)

	ctx := context.Background()
	g := di.MustResolve[Greeter](ctx, reg)
	assert.Equal(t, "hello db", g.Greet())

	r1 := di.MustResolve[*Repo](ctx, reg)
	r2 := di.MustResolve[*Repo](ctx, reg)
	assert.NotSame(t, r1, r2)

	r, _ := reg.Registration(keyRepo)
	assert.Equal(t, []di.Key{keyConfig}, r.Dependencies())
}

func TestProvide_ConstructorErrors(t *testing.T) {
	reg := ditest.New(t)

	_, err := di.Provide(reg, func() {})
	assert.Error(t, err)
	_, err = di.Provide(reg, func() (int, string) { return 0, "" })
	assert.Error(t, err)
	_, err = di.Provide(reg, 42)
	assert.Error(t, err)
	_, err = di.Provide(reg, func(c *Config) *Config { return c })
	assert.ErrorIs(t, err, di.ErrCircularDependency)

	boom := errors.New("boom")
	_, err = di.Provide(reg, func() (*Repo, error) { return nil, boom })
	require.NoError(t, err)
	_, err = di.Require[*Repo](context.Background(), reg)
	assert.ErrorIs(t, err, boom)
}

func TestProvide_StructFieldInjection(t *testing.T) {
	reg := ditest.New(t)
	di.RegisterValue(reg, &Config{DSN: "db"})
	di.MustProvide(reg, NewGreeter)
	di.MustProvide(reg, NewRepo)

	h := &Handler{Plain: "kept"}
	key := di.MustProvide(reg, h)
	assert.Equal(t, di.KeyOf[*Handler](), key)

	got := di.MustResolve[*Handler](context.Background(), reg)
	assert.Same(t, h, got)
	assert.NotNil(t, h.Greeter)
	assert.NotNil(t, h.Repo)
	assert.Nil(t, h.Audit)
	assert.Nil(t, h.Missing)
	assert.Equal(t, "kept", h.Plain)

	r, _ := reg.Registration(key)
	assert.ElementsMatch(t, []di.Key{di.KeyOf[Greeter](), keyRepo}, r.Dependencies())
}

func TestProvide_UnexportedTaggedField(t *testing.T) {
	type bad struct {
		cfg *Config `di:""`
	}
	reg := ditest.New(t)
	_, err := di.Provide(reg, &bad{})
	assert.Error(t, err)
}

func TestInjectFields(t *testing.T) {
	reg := ditest.New(t)
	di.RegisterValue(reg, &Config{DSN: "db"})
	di.MustProvide(reg, NewGreeter)

	var target struct {
		Greeter Greeter `di:""`
		Repo    *Repo   `di:"?"`
	}
	require.NoError(t, di.InjectFields(context.Background(), reg, &target))
	assert.NotNil(t, target.Greeter)
	assert.Nil(t, target.Repo)

	var required struct {
		Repo *Repo `di:""`
	}
	err := di.InjectFields(context.Background(), reg, &required)
	assert.ErrorIs(t, err, di.ErrNotRegistered)
}

func TestValidate(t *testing.T) {
	reg := ditest.New(t)
	di.RegisterValue(reg, &Config{})
	di.MustProvide(reg, NewGreeter)
	di.MustProvide(reg, NewRepo)
	require.NoError(t, reg.Validate())

	// 缺失依赖
	reg.Register(keyService, func(context.Context, di.Resolver) (any, error) { return &Service{}, nil },
		di.WithDependsOn(keyRepo, di.KeyOf[*Handler]()))
	err := reg.Validate()
	ditest.AssertUnregistered(t, err, di.KeyOf[*Handler]())

	// 循环
	reg.Register(keyService, func(context.Context, di.Resolver) (any, error) { return &Service{}, nil })
	reg.Register(keyA, func(context.Context, di.Resolver) (any, error) { return &ServiceA{}, nil }, di.WithDependsOn(keyB))
	reg.Register(keyB, func(context.Context, di.Resolver) (any, error) { return &ServiceB{}, nil }, di.WithDependsOn(keyA))
	err = reg.Validate()
	ditest.AssertCycle(t, err, keyA, keyB, keyA)
	assert.Contains(t, reg.CircularDependencies(), []di.Key{keyA, keyB, keyA})

	graph := reg.DependencyGraph()
	assert.Equal(t, []di.Key{keyB}, graph[keyA])
	assert.Equal(t, []di.Key{keyConfig}, graph[di.KeyOf[Greeter]()])
}

func TestDefaultRegistry(t *testing.T) {
	reg := ditest.New(t)
	ditest.UseDefault(t, reg)
	assert.Same(t, reg, di.Default())

	dsn := di.NewToken[string]("dsn")
	di.RegisterValue(reg, &Config{DSN: "default"})
	di.RegisterValue(reg, "postgres://", di.WithName(dsn.Name()))

	assert.Equal(t, "default", di.Inject[*Config]().DSN)
	assert.Equal(t, "postgres://", di.Inject(dsn))

	_, err := di.TryInject[*Repo]()
	assert.ErrorIs(t, err, di.ErrNotRegistered)
	assert.Panics(t, func() { di.Inject[*Repo]() })

	fallback := &Repo{}
	assert.Same(t, fallback, di.InjectOrDefault(fallback))
}

func TestLazy(t *testing.T) {
	reg := ditest.New(t)
	lazy := di.NewLazy[*Config](reg)
	ctx := context.Background()

	_, err := lazy.Get(ctx)
	assert.ErrorIs(t, err, di.ErrNotRegistered)
	assert.False(t, lazy.Resolved())

	di.RegisterValue(reg, &Config{DSN: "lazy"})
	cfg := lazy.MustGet(ctx)
	assert.Equal(t, "lazy", cfg.DSN)
	assert.True(t, lazy.Resolved())

	// 缓存后不再受重新注册影响
	di.RegisterValue(reg, &Config{DSN: "other"})
	assert.Same(t, cfg, lazy.MustGet(ctx))
	assert.Equal(t, keyConfig, lazy.Key())
}

type Wired struct {
	Cfg *Config `di:""`
}

func TestProvide_StructInjectedOnce(t *testing.T) {
	reg := ditest.New(t)
	var calls atomic.Int64
	reg.Register(keyConfig, func(context.Context, di.Resolver) (any, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return &Config{DSN: "db"}, nil
	}, di.WithTransient())

	target := &Wired{}
	di.MustProvide(reg, target)

	const n = 8
	results := make([]*Wired, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = di.MustResolve[*Wired](context.Background(), reg)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, target, r)
	}
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, "db", target.Cfg.DSN)
}

func TestProvide_StructInjectionRetriesAfterFailure(t *testing.T) {
	reg := ditest.New(t)
	target := &Wired{}
	di.MustProvide(reg, target)

	_, err := di.Require[*Wired](context.Background(), reg)
	require.ErrorIs(t, err, di.ErrNotRegistered)

	di.RegisterValue(reg, &Config{DSN: "late"})
	got, err := di.Require[*Wired](context.Background(), reg)
	require.NoError(t, err)
	assert.Same(t, target, got)
	assert.Equal(t, "late", target.Cfg.DSN)
}
