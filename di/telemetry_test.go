package di_test

import (
	"context"
	"testing"
	"time"

	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/di/ditest"
	"github.com/gocrud/weavedi/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func resolveN(t *testing.T, r di.Resolver, key di.Key, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := r.Require(context.Background(), key)
		require.NoError(t, err)
	}
}

func TestStats_CountsAndFrequentlyUsed(t *testing.T) {
	reg := ditest.New(t, di.WithSettings(di.Settings{FrequentThreshold: 3}))
	registerChain(reg)

	resolveN(t, reg, keyConfig, 3)
	resolveN(t, reg, keyService, 4)

	stats := reg.Stats()
	assert.Equal(t, uint64(3+1), stats[keyConfig]) // Repo 的首次构造也解析了一次 Config
	assert.Equal(t, uint64(1), stats[keyRepo])
	assert.Equal(t, uint64(4), stats[keyService])

	// 严格大于阈值
	assert.Equal(t, []di.Key{keyConfig, keyService}, reg.FrequentlyUsed(3))
	assert.Empty(t, reg.FrequentlyUsed(4))
	assert.Equal(t, []di.Key{keyConfig, keyService}, reg.OptimizedTypes())

	records := reg.UsageRecords()
	require.Len(t, records, 3)
	assert.Equal(t, keyConfig, records[0].Key)
	assert.False(t, records[0].LastResolvedAt.IsZero())
	assert.Equal(t, uint64(9), reg.Counters().Resolutions)
}

func TestStats_SetFrequentThreshold(t *testing.T) {
	reg := ditest.New(t)
	registerChain(reg)
	resolveN(t, reg, keyConfig, 5)

	assert.Empty(t, reg.OptimizedTypes())
	reg.SetFrequentThreshold(2)
	assert.Equal(t, 2, reg.FrequentThreshold())
	assert.Equal(t, []di.Key{keyConfig}, reg.OptimizedTypes())
	assert.Equal(t, 2, reg.Settings().FrequentThreshold)
}

func TestStats_ResetAndResetForTesting(t *testing.T) {
	reg := ditest.New(t, di.WithSettings(di.Settings{FrequentThreshold: 1}))
	registerChain(reg)
	resolveN(t, reg, keyService, 3)

	reg.ResetStats()
	assert.Empty(t, reg.Stats())
	assert.Empty(t, reg.OptimizedTypes())
	assert.True(t, reg.IsRegistered(keyService))

	resolveN(t, reg, keyService, 2)
	slotBefore, _ := reg.Registration(keyService)

	reg.ResetForTesting()
	assert.Empty(t, reg.Stats())
	assert.Empty(t, reg.CircularDependencies())
	assert.False(t, reg.IsRegistered(keyService))

	// 槽位不复用：重新注册得到同一个槽位
	registerChain(reg)
	slotAfter, _ := reg.Registration(keyService)
	assert.Equal(t, slotBefore.Slot(), slotAfter.Slot())
}

func TestStats_Disabled(t *testing.T) {
	reg := ditest.New(t, di.WithSettings(di.Settings{DisableStats: true}))
	registerChain(reg)
	resolveN(t, reg, keyService, 5)

	assert.Empty(t, reg.Stats())
	assert.Zero(t, reg.Counters().Resolutions)
}

func TestOptimizer_DebouncedRecompute(t *testing.T) {
	mem := logging.NewMemoryLoggerProvider()
	reg := ditest.New(t,
		di.WithLogger(mem.CreateLogger("test")),
		di.WithSettings(di.Settings{FrequentThreshold: 2, OptimizeDebounce: 5 * time.Millisecond}),
	)
	registerChain(reg)
	resolveN(t, reg, keyService, 3)

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]di.Key{keyService}, reg.OptimizedTypes())
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		for _, e := range mem.Filter(logging.LogLevelInfo) {
			if v, ok := e.Field("key"); ok && v == keyService.String() {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())
}

func TestSummary(t *testing.T) {
	reg := ditest.New(t, di.WithSettings(di.Settings{FrequentThreshold: 1}))
	registerChain(reg)
	resolveN(t, reg, keyService, 2)

	s := reg.Summary()
	assert.Equal(t, 3, s.Registrations)
	assert.Equal(t, 3, s.Slots)
	assert.Equal(t, reg.Snapshot().Version(), s.SnapshotVersion)
	assert.Equal(t, []di.Key{keyService}, s.Optimized)
}

func TestTracing_FactorySpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	reg := ditest.New(t, di.WithTracerProvider(tp))
	registerChain(reg)

	_, err := reg.Require(context.Background(), keyService)
	require.NoError(t, err)

	spans := sr.Ended()
	// Service 和 Repo 各构造一次；Config 是预先创建的值
	require.Len(t, spans, 2)
	for _, s := range spans {
		assert.Equal(t, "di.construct", s.Name())
	}
	// 内层 span 先结束，并以外层 span 为父
	assert.Contains(t, spans[0].Attributes(), attribute.String("di.key", keyRepo.String()))
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())

	reg.Register(di.KeyOf[int](), func(context.Context, di.Resolver) (any, error) { panic("x") })
	_, _, err = reg.Resolve(context.Background(), di.KeyOf[int]())
	require.Error(t, err)
	last := sr.Ended()[len(sr.Ended())-1]
	assert.Equal(t, codes.Error, last.Status().Code)
}

func TestOptimizedTypes_ReadHasNoSideEffects(t *testing.T) {
	mem := logging.NewMemoryLoggerProvider()
	reg := ditest.New(t,
		di.WithLogger(mem.CreateLogger("test")),
		di.WithSettings(di.Settings{FrequentThreshold: 1}),
	)
	registerChain(reg)
	resolveN(t, reg, keyService, 3)

	marked := func() int {
		n := 0
		for _, e := range mem.Filter(logging.LogLevelInfo) {
			if e.Message == "type marked as frequently used" {
				n++
			}
		}
		return n
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, []di.Key{keyService}, reg.Summary().Optimized)
		assert.Equal(t, []di.Key{keyService}, reg.OptimizedTypes())
	}
	assert.Zero(t, marked())

	// 修改阈值会重算并记录新进入集合的类型
	reg.SetFrequentThreshold(0)
	assert.Equal(t, 3, marked())
	assert.ElementsMatch(t, []di.Key{keyConfig, keyRepo, keyService}, reg.OptimizedTypes())
}
