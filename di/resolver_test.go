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
	"github.com/gocrud/weavedi/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Config struct {
	DSN string
}

type Repo struct {
	Cfg *Config
}

type Service struct {
	Repo *Repo
}

type ServiceA struct{ B *ServiceB }
type ServiceB struct{ A *ServiceA }

var (
	keyConfig  = di.KeyOf[*Config]()
	keyRepo    = di.KeyOf[*Repo]()
	keyService = di.KeyOf[*Service]()
	keyA       = di.KeyOf[*ServiceA]()
	keyB       = di.KeyOf[*ServiceB]()
)

func registerChain(reg di.Registrar) {
	di.RegisterValue(reg, &Config{DSN: "sqlite://"})
	di.Register(reg, func(ctx context.Context, r di.Resolver) (*Repo, error) {
		cfg, err := di.Require[*Config](ctx, r)
		if err != nil {
			return nil, err
		}
		return &Repo{Cfg: cfg}, nil
	})
	di.Register(reg, func(ctx context.Context, r di.Resolver) (*Service, error) {
		repo, err := di.Require[*Repo](ctx, r)
		if err != nil {
			return nil, err
		}
		return &Service{Repo: repo}, nil
	})
}

func TestResolve_SingletonIdentity(t *testing.T) {
	reg := ditest.New(t)
	registerChain(reg)
	ctx := context.Background()

	s1, ok, err := di.Resolve[*Service](ctx, reg)
	require.NoError(t, err)
	require.True(t, ok)
	s2 := di.MustResolve[*Service](ctx, reg)

	assert.Same(t, s1, s2)
	assert.Same(t, s1.Repo, s2.Repo)
	assert.Equal(t, "sqlite://", s1.Repo.Cfg.DSN)
}

func TestResolve_TransientIsFresh(t *testing.T) {
	reg := ditest.New(t)
	factory, calls := ditest.Counter()
	reg.Register(di.KeyOf[*int64](), factory, di.WithTransient())

	ctx := context.Background()
	a := reg.MustResolve(ctx, di.KeyOf[*int64]()).(*int64)
	b := reg.MustResolve(ctx, di.KeyOf[*int64]()).(*int64)

	assert.NotSame(t, a, b)
	assert.Equal(t, int64(2), calls.Load())
}

func TestResolve_UnregisteredIsAbsence(t *testing.T) {
	reg := ditest.New(t)

	v, ok, err := reg.Resolve(context.Background(), keyService)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
	assert.False(t, reg.IsRegistered(keyService))
}

func TestRequire_UnregisteredReportsKeyAndPath(t *testing.T) {
	mem := logging.NewMemoryLoggerProvider()
	reg := ditest.New(t, di.WithLogger(mem.CreateLogger("test")))

	// Repo 依赖未注册的 Config
	di.Register(reg, func(ctx context.Context, r di.Resolver) (*Repo, error) {
		cfg, err := di.Require[*Config](ctx, r)
		return &Repo{Cfg: cfg}, err
	})

	_, err := di.Require[*Repo](context.Background(), reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, di.ErrNotRegistered)

	var ue *di.UnregisteredError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, keyConfig, ue.Key)
	assert.Equal(t, []di.Key{keyRepo}, ue.Path)

	errs := mem.Filter(logging.LogLevelError)
	require.Len(t, errs, 1)
	assert.Equal(t, "di", errs[0].Category)
	v, _ := errs[0].Field("key")
	assert.Equal(t, keyConfig.String(), v)
}

func TestRequire_DevelopmentPanics(t *testing.T) {
	reg := ditest.New(t, di.WithSettings(di.Settings{Development: true}))

	assert.Panics(t, func() {
		_, _ = reg.Require(context.Background(), keyConfig)
	})
	// Resolve 只报告缺失，不会 panic
	assert.NotPanics(t, func() {
		_, _, _ = reg.Resolve(context.Background(), keyConfig)
	})
}

func TestResolve_LastRegistrationWins(t *testing.T) {
	reg := ditest.New(t)
	ctx := context.Background()

	di.RegisterValue(reg, &Config{DSN: "first"})
	first := di.MustResolve[*Config](ctx, reg)
	di.RegisterValue(reg, &Config{DSN: "second"})
	second := di.MustResolve[*Config](ctx, reg)

	assert.Equal(t, "first", first.DSN)
	assert.Equal(t, "second", second.DSN)
	assert.Equal(t, 1, reg.Snapshot().Len())
}

func TestResolve_ReRegistrationDropsCachedSingleton(t *testing.T) {
	reg := ditest.New(t)
	ctx := context.Background()
	factory, calls := ditest.Counter()
	key := di.KeyOf[*int64]()

	reg.Register(key, factory)
	a := reg.MustResolve(ctx, key)
	reg.Register(key, factory)
	b := reg.MustResolve(ctx, key)

	assert.NotSame(t, a, b)
	assert.Equal(t, int64(2), calls.Load())
}

func TestResolve_CycleDetected(t *testing.T) {
	reg := ditest.New(t)
	di.Register(reg, func(ctx context.Context, r di.Resolver) (*ServiceA, error) {
		b, err := di.Require[*ServiceB](ctx, r)
		return &ServiceA{B: b}, err
	})
	di.Register(reg, func(ctx context.Context, r di.Resolver) (*ServiceB, error) {
		a, err := di.Require[*ServiceA](ctx, r)
		return &ServiceB{A: a}, err
	})

	done := make(chan error, 1)
	go func() {
		_, _, err := reg.Resolve(context.Background(), keyA)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle resolution did not terminate")
	}

	assert.ErrorIs(t, err, di.ErrCircularDependency)
	ditest.AssertCycle(t, err, keyA, keyB, keyA)
	assert.Equal(t, [][]di.Key{{keyA, keyB, keyA}}, reg.CircularDependencies())
	assert.Equal(t, uint64(1), reg.Counters().CyclesDetected)

	// 循环不会留下任何状态，之后的解析依然报告同样的循环
	_, _, err = reg.Resolve(context.Background(), keyB)
	ditest.AssertCycle(t, err, keyB, keyA, keyB)
}

func TestResolve_SelfDependency(t *testing.T) {
	reg := ditest.New(t)
	reg.Register(keyA, func(ctx context.Context, r di.Resolver) (any, error) {
		return r.Require(ctx, keyA)
	})

	_, _, err := reg.Resolve(context.Background(), keyA)
	ditest.AssertCycle(t, err, keyA, keyA)
}

func TestResolve_CycleThroughContext(t *testing.T) {
	reg := ditest.New(t)
	// 工厂通过 ctx 而不是绑定的 Resolver 回到注册表
	reg.Register(keyA, func(ctx context.Context, _ di.Resolver) (any, error) {
		return reg.Require(ctx, keyB)
	})
	reg.Register(keyB, func(ctx context.Context, _ di.Resolver) (any, error) {
		assert.Equal(t, []di.Key{keyA, keyB}, di.ResolutionPath(ctx))
		return reg.Require(ctx, keyA)
	})

	_, _, err := reg.Resolve(context.Background(), keyA)
	ditest.AssertCycle(t, err, keyA, keyB, keyA)
}

func TestResolve_FactoryErrors(t *testing.T) {
	reg := ditest.New(t)
	boom := errors.New("boom")
	ctx := context.Background()

	reg.Register(keyConfig, func(context.Context, di.Resolver) (any, error) { return nil, boom })
	_, _, err := reg.Resolve(ctx, keyConfig)
	assert.ErrorIs(t, err, boom)
	var fe *di.FactoryError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, keyConfig, fe.Key)

	// 嵌套失败保留最内层的 Key
	di.Register(reg, func(ctx context.Context, r di.Resolver) (*Repo, error) {
		cfg, err := di.Require[*Config](ctx, r)
		return &Repo{Cfg: cfg}, err
	})
	_, _, err = reg.Resolve(ctx, keyRepo)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, keyConfig, fe.Key)

	// 失败不会缓存，修复后可以成功
	di.RegisterValue(reg, &Config{})
	_, ok, err := reg.Resolve(ctx, keyRepo)
	assert.NoError(t, err)
	assert.True(t, ok)
	// Config 失败一次，随后 Repo 解析中 Config 与 Repo 各失败一次
	assert.Equal(t, uint64(3), reg.Counters().Failures)
}

func TestResolve_PanicAndNilRecovered(t *testing.T) {
	reg := ditest.New(t)
	ctx := context.Background()

	reg.Register(keyConfig, func(context.Context, di.Resolver) (any, error) { panic("bad factory") })
	_, _, err := reg.Resolve(ctx, keyConfig)
	var fe *di.FactoryError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "bad factory")

	di.Register(reg, func(context.Context, di.Resolver) (*Repo, error) { return nil, nil })
	_, _, err = reg.Resolve(ctx, keyRepo)
	assert.ErrorIs(t, err, di.ErrNilInstance)
}

func TestResolve_ConcurrentFirstResolutionRaceTolerant(t *testing.T) {
	reg := ditest.New(t)
	var calls atomic.Int64
	start := make(chan struct{})
	reg.Register(keyConfig, func(context.Context, di.Resolver) (any, error) {
		calls.Add(1)
		<-start
		return &Config{}, nil
	})

	const n = 16
	results := make([]any, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = reg.MustResolve(context.Background(), keyConfig)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(start)
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	// 每次多余的构造都被计数
	assert.Equal(t, uint64(calls.Load()-1), reg.Counters().RedundantConstructions)
}

func TestResolve_ConcurrentFirstResolutionExactlyOnce(t *testing.T) {
	reg := ditest.New(t, di.WithSettings(di.Settings{SingletonPolicy: di.PolicyExactlyOnce}))
	var calls atomic.Int64
	reg.Register(keyConfig, func(context.Context, di.Resolver) (any, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &Config{}, nil
	})

	const n = 16
	results := make([]any, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = reg.MustResolve(context.Background(), keyConfig)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Zero(t, reg.Counters().RedundantConstructions)
}

func TestResolve_ReadersDuringWrites(t *testing.T) {
	reg := ditest.New(t)
	di.RegisterValue(reg, &Config{DSN: "stable"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			reg.Register(di.NamedKey[int](string(rune('a'+i%26))), func(context.Context, di.Resolver) (any, error) {
				return 1, nil
			})
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				cfg, ok, err := di.Resolve[*Config](context.Background(), reg)
				if !assert.NoError(t, err) || !assert.True(t, ok) {
					return
				}
				assert.Equal(t, "stable", cfg.DSN)
			}
		}()
	}
	wg.Wait()
}

func TestResolveAsync_Cancellation(t *testing.T) {
	reg := ditest.New(t)
	release := make(chan struct{})
	defer close(release)
	reg.Register(keyConfig, func(context.Context, di.Resolver) (any, error) {
		<-release
		return &Config{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	startedAt := time.Now()
	_, ok, err := reg.ResolveAsync(ctx, keyConfig)
	assert.True(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(startedAt), time.Second)
}

func TestResolveAsync_ResolvesAndHonorsInlineHint(t *testing.T) {
	reg := ditest.New(t)
	registerChain(reg)
	reg.Register(di.KeyOf[string](), func(context.Context, di.Resolver) (any, error) {
		return "inline", nil
	}, di.WithHint(di.HintInline))

	svc, ok, err := di.ResolveAsync[*Service](context.Background(), reg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sqlite://", svc.Repo.Cfg.DSN)

	s, ok, err := di.ResolveAsync[string](context.Background(), reg)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "inline", s)

	_, ok, err = reg.ResolveAsync(context.Background(), di.KeyOf[int]())
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveAll_AndWarmup(t *testing.T) {
	reg := ditest.New(t)
	registerChain(reg)
	ctx := context.Background()

	require.NoError(t, reg.Warmup(ctx))
	for _, key := range []di.Key{keyConfig, keyRepo, keyService} {
		r, ok := reg.Registration(key)
		require.True(t, ok)
		_, cached := r.Cached()
		assert.True(t, cached, key.String())
	}

	vals, err := reg.ResolveAll(ctx, keyService, keyConfig)
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.IsType(t, &Service{}, vals[0])
	assert.IsType(t, &Config{}, vals[1])

	_, err = reg.ResolveAll(ctx, keyService, di.KeyOf[int]())
	assert.ErrorIs(t, err, di.ErrNotRegistered)
}

func TestToken(t *testing.T) {
	reg := ditest.New(t)
	dsn := di.NewToken[string]("dsn")
	di.RegisterValue(reg, "postgres://", di.WithName(dsn.Name()))

	v, err := di.ResolveToken(context.Background(), reg, dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres://", v)
	assert.Equal(t, di.NamedKey[string]("dsn"), dsn.Key())
	assert.False(t, di.IsRegistered[string](reg))
	assert.True(t, di.IsRegistered[string](reg, di.WithName("dsn")))

	s, ok, err := di.ResolveNamed[string](context.Background(), reg, "dsn")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "postgres://", s)
}

func TestUnregister(t *testing.T) {
	reg := ditest.New(t)
	registerChain(reg)
	v0 := reg.Snapshot().Version()

	assert.True(t, reg.Unregister(keyService))
	assert.False(t, reg.Unregister(keyService))
	assert.False(t, reg.Unregister(di.KeyOf[int]()))
	assert.False(t, reg.IsRegistered(keyService))
	assert.Equal(t, v0+1, reg.Snapshot().Version())
}

func TestSnapshot_IsStableForHolder(t *testing.T) {
	reg := ditest.New(t)
	registerChain(reg)

	snap := reg.Snapshot()
	reg.ReleaseAll()

	assert.Equal(t, 3, snap.Len())
	_, ok := snap.Lookup(keyRepo)
	assert.True(t, ok)
	assert.Equal(t, 0, reg.Snapshot().Len())
	assert.Equal(t, snap.Version()+1, reg.Snapshot().Version())
	assert.Equal(t, []di.Key{keyConfig, keyRepo, keyService}, snap.Keys())
}

// registerGatedCycle 注册 ServiceA <-> ServiceB。
// 两个工厂都开始执行之后才去解析对方，保证两个 goroutine 各自持有一半的环。
func registerGatedCycle(reg di.Registrar, opts ...di.Option) {
	var started sync.WaitGroup
	started.Add(2)
	var onceA, onceB sync.Once

	di.Register(reg, func(ctx context.Context, r di.Resolver) (*ServiceA, error) {
		onceA.Do(started.Done)
		started.Wait()
		b, err := di.Require[*ServiceB](ctx, r)
		if err != nil {
			return nil, err
		}
		return &ServiceA{B: b}, nil
	}, opts...)
	di.Register(reg, func(ctx context.Context, r di.Resolver) (*ServiceB, error) {
		onceB.Do(started.Done)
		started.Wait()
		a, err := di.Require[*ServiceA](ctx, r)
		if err != nil {
			return nil, err
		}
		return &ServiceB{A: a}, nil
	}, opts...)
}

// resolveFromBothEnds 在两个 goroutine 上同时解析 A 和 B，超时视为死锁。
func resolveFromBothEnds(t *testing.T, r di.Resolver) (errA, errB error) {
	t.Helper()
	ctx := context.Background()
	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() {
		_, err := r.Require(ctx, keyA)
		doneA <- err
	}()
	go func() {
		_, err := r.Require(ctx, keyB)
		doneB <- err
	}()

	timeout := time.After(5 * time.Second)
	for doneA != nil || doneB != nil {
		select {
		case errA = <-doneA:
			doneA = nil
		case errB = <-doneB:
			doneB = nil
		case <-timeout:
			t.Fatal("concurrent A<->B resolution did not terminate")
		}
	}
	return errA, errB
}

func assertClosedCycle(t *testing.T, err error) {
	t.Helper()
	var ce *di.CircularDependencyError
	if assert.ErrorAs(t, err, &ce) {
		require.NotEmpty(t, ce.Cycle)
		assert.Equal(t, ce.Cycle[0], ce.Cycle[len(ce.Cycle)-1])
		assert.Subset(t, ce.Cycle, []di.Key{keyA, keyB})
	}
}

func TestResolve_CrossGoroutineCycleExactlyOnce(t *testing.T) {
	reg := ditest.New(t, di.WithSettings(di.Settings{SingletonPolicy: di.PolicyExactlyOnce}))
	registerGatedCycle(reg)

	errA, errB := resolveFromBothEnds(t, reg)
	assertClosedCycle(t, errA)
	assertClosedCycle(t, errB)
	assert.NotEmpty(t, reg.CircularDependencies())
	assert.NotZero(t, reg.Counters().CyclesDetected)

	// 失败的构造不留下实例
	for _, key := range []di.Key{keyA, keyB} {
		r, ok := reg.Registration(key)
		require.True(t, ok)
		_, cached := r.Cached()
		assert.False(t, cached)
	}
}

func TestResolve_CrossGoroutineCycleRaceTolerant(t *testing.T) {
	reg := ditest.New(t)
	registerGatedCycle(reg)

	errA, errB := resolveFromBothEnds(t, reg)
	assertClosedCycle(t, errA)
	assertClosedCycle(t, errB)
}

func TestResolve_NilContext(t *testing.T) {
	reg := ditest.New(t)
	registerChain(reg)

	var ctx context.Context
	v, ok, err := reg.Resolve(ctx, keyService)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sqlite://", v.(*Service).Repo.Cfg.DSN)

	_, err = reg.Require(ctx, keyRepo)
	assert.NoError(t, err)
	_, _, err = reg.ResolveAsync(ctx, keyConfig)
	assert.NoError(t, err)
	_, err = reg.ResolveAll(ctx, keyConfig, keyRepo)
	assert.NoError(t, err)
	assert.NoError(t, reg.Warmup(ctx))

	sess := reg.NewSession("")
	_, err = sess.Require(ctx, keyService)
	assert.NoError(t, err)
}
