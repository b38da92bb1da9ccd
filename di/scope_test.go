package di_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/di/ditest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Session struct{ ID int64 }
type RequestCtx struct {
	Session *Session
	ID      int64
}

type closer struct {
	name   string
	closed *[]string
	mu     *sync.Mutex
	err    error
}

func (c *closer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.closed = append(*c.closed, c.name)
	return c.err
}

func registerScoped(reg di.Registrar) {
	var n int64
	var mu sync.Mutex
	next := func() int64 {
		mu.Lock()
		defer mu.Unlock()
		n++
		return n
	}
	di.Register(reg, func(context.Context, di.Resolver) (*Session, error) {
		return &Session{ID: next()}, nil
	}, di.WithSession())
	di.Register(reg, func(ctx context.Context, r di.Resolver) (*RequestCtx, error) {
		rc := &RequestCtx{ID: next()}
		s, ok, err := di.Resolve[*Session](ctx, r)
		if err != nil && !errors.Is(err, di.ErrScopeRequired) {
			return nil, err
		}
		if ok && err == nil {
			rc.Session = s
		}
		return rc, nil
	}, di.WithRequest())
}

func TestScope_RequiresScope(t *testing.T) {
	reg := ditest.New(t)
	registerScoped(reg)

	_, _, err := reg.Resolve(context.Background(), di.KeyOf[*Session]())
	assert.ErrorIs(t, err, di.ErrScopeRequired)

	// 会话作用域内没有请求作用域
	sess := reg.NewSession("")
	_, _, err = sess.Resolve(context.Background(), di.KeyOf[*RequestCtx]())
	assert.ErrorIs(t, err, di.ErrScopeRequired)
}

func TestScope_InstancePerScope(t *testing.T) {
	reg := ditest.New(t)
	registerScoped(reg)
	ctx := context.Background()

	s1 := reg.NewSession("s1")
	s2 := reg.NewSession("s2")
	a1 := di.MustResolve[*Session](ctx, s1)
	a2 := di.MustResolve[*Session](ctx, s1)
	b := di.MustResolve[*Session](ctx, s2)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Equal(t, "s1", s1.ID())
	assert.Equal(t, di.ScopeSession, s1.Kind())

	// 请求嵌套在会话中，可以看到会话实例
	req := s1.NewRequest("")
	assert.NotEmpty(t, req.ID())
	assert.Same(t, s1, req.Parent())
	rc := di.MustResolve[*RequestCtx](ctx, req)
	assert.Same(t, rc, di.MustResolve[*RequestCtx](ctx, req))
	assert.Same(t, a1, rc.Session)

	// 独立请求没有会话
	standalone := di.MustResolve[*RequestCtx](ctx, reg.NewRequest(""))
	assert.Nil(t, standalone.Session)
	assert.NotSame(t, rc, standalone)
}

func TestScope_SingletonSeesRootScope(t *testing.T) {
	reg := ditest.New(t)
	registerScoped(reg)
	// 单例工厂不能捕获会话级依赖
	di.Register(reg, func(ctx context.Context, r di.Resolver) (*Service, error) {
		_, err := di.Require[*Session](ctx, r)
		return &Service{}, err
	})

	_, _, err := reg.NewSession("").Resolve(context.Background(), keyService)
	assert.ErrorIs(t, err, di.ErrScopeRequired)
}

func TestScope_TransientSeesCallerScope(t *testing.T) {
	reg := ditest.New(t)
	registerScoped(reg)
	di.Register(reg, func(ctx context.Context, r di.Resolver) (*Repo, error) {
		_, err := di.Require[*Session](ctx, r)
		return &Repo{}, err
	}, di.WithTransient())

	sess := reg.NewSession("")
	_, err := di.Require[*Repo](context.Background(), sess)
	assert.NoError(t, err)
}

func TestScope_ConcurrentResolutionBuildsOnce(t *testing.T) {
	reg := ditest.New(t)
	factory, calls := ditest.Counter()
	reg.Register(di.KeyOf[*int64](), factory, di.WithSession())
	sess := reg.NewSession("")

	var wg sync.WaitGroup
	results := make([]any, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := sess.Resolve(context.Background(), di.KeyOf[*int64]())
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestScope_RebuildsAfterReRegistration(t *testing.T) {
	reg := ditest.New(t)
	factory, calls := ditest.Counter()
	key := di.KeyOf[*int64]()
	reg.Register(key, factory, di.WithRequest())
	req := reg.NewRequest("")

	a, _, _ := req.Resolve(context.Background(), key)
	reg.Register(key, factory, di.WithRequest())
	b, _, _ := req.Resolve(context.Background(), key)

	assert.NotSame(t, a, b)
	assert.Equal(t, int64(2), calls.Load())
}

func TestScope_DisposeClosesInReverseOrder(t *testing.T) {
	reg := ditest.New(t)
	var closed []string
	var mu sync.Mutex
	boom := errors.New("close failed")

	reg.Register(di.NamedKey[*closer]("first"), func(context.Context, di.Resolver) (any, error) {
		return &closer{name: "first", closed: &closed, mu: &mu, err: boom}, nil
	}, di.WithRequest())
	reg.Register(di.NamedKey[*closer]("second"), func(context.Context, di.Resolver) (any, error) {
		return &closer{name: "second", closed: &closed, mu: &mu}, nil
	}, di.WithRequest())

	req := reg.NewRequest("")
	ctx := context.Background()
	_, err := req.Require(ctx, di.NamedKey[*closer]("first"))
	require.NoError(t, err)
	_, err = req.Require(ctx, di.NamedKey[*closer]("second"))
	require.NoError(t, err)

	err = req.Dispose()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"second", "first"}, closed)
	assert.True(t, req.Disposed())

	_, _, err = req.Resolve(ctx, di.NamedKey[*closer]("first"))
	assert.ErrorIs(t, err, di.ErrScopeDisposed)
	assert.NoError(t, req.Dispose())
}

func TestScope_CrossGoroutineCycle(t *testing.T) {
	reg := ditest.New(t)
	registerGatedCycle(reg, di.WithSession())
	sess := reg.NewSession("")

	errA, errB := resolveFromBothEnds(t, sess)
	assertClosedCycle(t, errA)
	assertClosedCycle(t, errB)
	assert.NotEmpty(t, reg.CircularDependencies())
}

func TestScope_CrossGoroutineCycleThroughNestedRequest(t *testing.T) {
	reg := ditest.New(t)
	registerGatedCycle(reg, di.WithRequest())
	req := reg.NewSession("").NewRequest("")

	errA, errB := resolveFromBothEnds(t, req)
	assertClosedCycle(t, errA)
	assertClosedCycle(t, errB)
}

func TestScope_InstanceBuiltAfterDisposeIsClosed(t *testing.T) {
	reg := ditest.New(t)
	var closed []string
	var mu sync.Mutex
	started := make(chan struct{})
	proceed := make(chan struct{})

	reg.Register(di.KeyOf[*closer](), func(context.Context, di.Resolver) (any, error) {
		close(started)
		<-proceed
		return &closer{name: "late", closed: &closed, mu: &mu}, nil
	}, di.WithRequest())

	req := reg.NewRequest("")
	done := make(chan error, 1)
	go func() {
		_, err := req.Require(context.Background(), di.KeyOf[*closer]())
		done <- err
	}()

	<-started
	require.NoError(t, req.Dispose())
	close(proceed)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, di.ErrScopeDisposed)
	case <-time.After(5 * time.Second):
		t.Fatal("resolution did not return after dispose")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"late"}, closed)
}
