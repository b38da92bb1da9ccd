package web_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocrud/weavedi/core"
	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/di/ditest"
	"github.com/gocrud/weavedi/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Config struct{ DSN string }

type Repo struct{ Cfg *Config }

func NewRepo(cfg *Config) *Repo { return &Repo{Cfg: cfg} }

func newEngine(t *testing.T, reg *di.Registry) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	web.NewDiagnostics(func() *di.Registry { return reg }, "").MountRoutes(engine)
	engine.GET("/metrics", web.MetricsHandler(func() *di.Registry { return reg }))
	return engine
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestDiagnostics_Stats(t *testing.T) {
	reg := ditest.New(t, di.WithSettings(di.Settings{FrequentThreshold: 1}))
	di.RegisterValue(reg, &Config{DSN: "mem"})
	_, err := di.Provide(reg, NewRepo)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		di.MustResolve[*Repo](ctx, reg)
	}
	engine := newEngine(t, reg)

	rec := do(t, engine, http.MethodGet, "/debug/di/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.EqualValues(t, 2, stats["registrations"])
	counters := stats["counters"].(map[string]any)
	// 首次构造 Repo 时嵌套解析了一次 Config
	assert.EqualValues(t, 4, counters["resolutions"])
	usage := stats["usage"].([]any)
	require.Len(t, usage, 2)
	assert.Equal(t, "*web_test.Repo", usage[0].(map[string]any)["key"])

	rec = do(t, engine, http.MethodGet, "/debug/di/optimized", "")
	assert.Equal(t, []any{"*web_test.Repo"}, decode(t, rec)["types"])

	rec = do(t, engine, http.MethodPut, "/debug/di/threshold", `{"threshold": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, reg.FrequentThreshold())
	assert.Empty(t, decode(t, rec)["types"])

	rec = do(t, engine, http.MethodPut, "/debug/di/threshold", `{"threshold": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, engine, http.MethodDelete, "/debug/di/stats", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, reg.UsageCount(di.KeyOf[*Repo]()))
}

func TestDiagnostics_SnapshotAndGraph(t *testing.T) {
	reg := ditest.New(t)
	_, err := di.Provide(reg, NewRepo)
	require.NoError(t, err)
	engine := newEngine(t, reg)

	rec := do(t, engine, http.MethodGet, "/debug/di/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode(t, rec)
	regs := snap["registrations"].([]any)
	require.Len(t, regs, 1)
	first := regs[0].(map[string]any)
	assert.Equal(t, "singleton", first["scope"])
	assert.Equal(t, []any{"*web_test.Config"}, first["dependencies"])
	assert.Equal(t, false, first["cached"])

	rec = do(t, engine, http.MethodGet, "/debug/di/graph?validate=true", "")
	graph := decode(t, rec)
	nodes := graph["nodes"].(map[string]any)
	assert.Equal(t, []any{"*web_test.Config"}, nodes["*web_test.Repo"])
	assert.Contains(t, graph["error"], "*web_test.Config")

	rec = do(t, engine, http.MethodGet, "/debug/di/cycles", "")
	assert.Equal(t, []any{}, decode(t, rec)["cycles"])
}

func TestMetricsRoute(t *testing.T) {
	reg := ditest.New(t)
	di.RegisterValue(reg, &Config{})
	di.MustResolve[*Config](context.Background(), reg)

	rec := do(t, newEngine(t, reg), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "weavedi_resolutions_total 1")
}

type pingController struct {
	Cfg *Config `di:""`
}

func (p *pingController) MountRoutes(r gin.IRouter) {
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong "+p.Cfg.DSN) })
}

func TestNew_HostServesControllersAndDiagnostics(t *testing.T) {
	rt := core.NewRuntime()
	t.Cleanup(func() { _ = rt.Close() })
	di.RegisterValue(rt, &Config{DSN: "db"})

	require.NoError(t, rt.Apply(web.New(
		web.WithAddr("127.0.0.1:0"),
		web.WithControllers(&pingController{}),
		web.WithDiagnostics(""),
		web.WithMetrics(""),
	)))
	host, ok := core.GetFeature[*web.Host](rt)
	require.True(t, ok)
	assert.Equal(t, 1, rt.Hosted.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- host.Start(ctx) }()

	select {
	case <-host.Ready():
	case err := <-done:
		t.Fatalf("host exited: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("host did not start")
	}

	base := fmt.Sprintf("http://%s", host.Address())
	for path, want := range map[string]string{
		"/ping":           "pong db",
		"/debug/di/stats": `"registrations"`,
		"/metrics":        "weavedi_registrations",
	} {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, string(body), want, path)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, host.Stop(stopCtx))
	assert.NoError(t, <-done)
}

func TestNew_InvalidController(t *testing.T) {
	rt := core.NewRuntime()
	t.Cleanup(func() { _ = rt.Close() })
	assert.Error(t, rt.Apply(web.New(web.WithControllers(42))))
}
