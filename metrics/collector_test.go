package metrics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/di/ditest"
	"github.com/gocrud/weavedi/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{}

func TestCollector(t *testing.T) {
	reg := ditest.New(t, di.WithSettings(di.Settings{FrequentThreshold: 1}))
	di.RegisterValue(reg, &clock{})
	di.RegisterValue(reg, "name")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		di.MustResolve[*clock](ctx, reg)
	}
	_, _, _ = reg.Resolve(ctx, di.KeyOf[int]())

	c := metrics.NewCollector(reg, "test")
	expected := `
# HELP test_registrations Number of registrations in the current snapshot
# TYPE test_registrations gauge
test_registrations 2
# HELP test_resolutions_total Total number of successful resolutions
# TYPE test_resolutions_total counter
test_resolutions_total 3
# HELP test_optimized_types Number of types above the frequent-use threshold
# TYPE test_optimized_types gauge
test_optimized_types 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"test_registrations", "test_resolutions_total", "test_optimized_types"))

	assert.Equal(t, 1, testutil.CollectAndCount(c, "test_type_resolutions_total"))
	problems, err := testutil.CollectAndLint(c)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestHandler(t *testing.T) {
	reg := ditest.New(t)
	di.RegisterValue(reg, &clock{})
	di.MustResolve[*clock](context.Background(), reg)

	rec := httptest.NewRecorder()
	metrics.Handler(reg, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "weavedi_resolutions_total 1")
	assert.Contains(t, rec.Body.String(), `weavedi_type_resolutions_total{key="*metrics_test.clock"} 1`)
}
