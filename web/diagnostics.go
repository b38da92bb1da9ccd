package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/metrics"
)

// DefaultDiagnosticsPrefix 诊断路由的默认前缀
const DefaultDiagnosticsPrefix = "/debug/di"

// Diagnostics 以 JSON 暴露注册表的运行状态
//
//	GET    <prefix>/stats      汇总计数与每个类型的解析次数
//	DELETE <prefix>/stats      清空使用统计
//	GET    <prefix>/optimized  高频类型
//	PUT    <prefix>/threshold  修改高频阈值 {"threshold": n}
//	GET    <prefix>/cycles     最近检测到的循环依赖
//	GET    <prefix>/snapshot   当前快照中的注册
//	GET    <prefix>/graph      静态依赖图，?validate=true 时附带校验结果
type Diagnostics struct {
	registry func() *di.Registry
	prefix   string
}

// NewDiagnostics 创建诊断控制器。registry 每次请求都会调用，以便跟随运行时重建的注册表。
func NewDiagnostics(registry func() *di.Registry, prefix string) *Diagnostics {
	if prefix == "" {
		prefix = DefaultDiagnosticsPrefix
	}
	return &Diagnostics{registry: registry, prefix: prefix}
}

// MountRoutes 实现 Controller
func (d *Diagnostics) MountRoutes(router gin.IRouter) {
	g := router.Group(d.prefix)
	g.GET("/stats", d.stats)
	g.DELETE("/stats", d.resetStats)
	g.GET("/optimized", d.optimized)
	g.PUT("/threshold", d.setThreshold)
	g.GET("/cycles", d.cycles)
	g.GET("/snapshot", d.snapshot)
	g.GET("/graph", d.graph)
}

type usageView struct {
	Key            string     `json:"key"`
	Slot           int        `json:"slot"`
	Count          uint64     `json:"count"`
	LastResolvedAt *time.Time `json:"last_resolved_at,omitempty"`
}

type countersView struct {
	Resolutions            uint64 `json:"resolutions"`
	Failures               uint64 `json:"failures"`
	CyclesDetected         uint64 `json:"cycles_detected"`
	RedundantConstructions uint64 `json:"redundant_constructions"`
}

type statsView struct {
	SnapshotVersion   uint64       `json:"snapshot_version"`
	Registrations     int          `json:"registrations"`
	Slots             int          `json:"slots"`
	FrequentThreshold int          `json:"frequent_threshold"`
	Counters          countersView `json:"counters"`
	Usage             []usageView  `json:"usage"`
}

func (d *Diagnostics) stats(c *gin.Context) {
	reg := d.registry()
	s := reg.Summary()
	view := statsView{
		SnapshotVersion:   s.SnapshotVersion,
		Registrations:     s.Registrations,
		Slots:             s.Slots,
		FrequentThreshold: reg.FrequentThreshold(),
		Counters: countersView{
			Resolutions:            s.Counters.Resolutions,
			Failures:               s.Counters.Failures,
			CyclesDetected:         s.Counters.CyclesDetected,
			RedundantConstructions: s.Counters.RedundantConstructions,
		},
		Usage: []usageView{},
	}
	for _, rec := range reg.UsageRecords() {
		u := usageView{Key: rec.Key.String(), Slot: rec.Slot, Count: rec.Count}
		if !rec.LastResolvedAt.IsZero() {
			t := rec.LastResolvedAt
			u.LastResolvedAt = &t
		}
		view.Usage = append(view.Usage, u)
	}
	c.JSON(http.StatusOK, view)
}

func (d *Diagnostics) resetStats(c *gin.Context) {
	d.registry().ResetStats()
	c.Status(http.StatusNoContent)
}

func (d *Diagnostics) optimized(c *gin.Context) {
	reg := d.registry()
	c.JSON(http.StatusOK, gin.H{
		"threshold": reg.FrequentThreshold(),
		"types":     keyStrings(reg.OptimizedTypes()),
	})
}

type thresholdRequest struct {
	Threshold int `json:"threshold" binding:"required,min=1"`
}

func (d *Diagnostics) setThreshold(c *gin.Context) {
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reg := d.registry()
	reg.SetFrequentThreshold(req.Threshold)
	c.JSON(http.StatusOK, gin.H{
		"threshold": reg.FrequentThreshold(),
		"types":     keyStrings(reg.OptimizedTypes()),
	})
}

func (d *Diagnostics) cycles(c *gin.Context) {
	out := [][]string{}
	for _, cycle := range d.registry().CircularDependencies() {
		out = append(out, keyStrings(cycle))
	}
	c.JSON(http.StatusOK, gin.H{"cycles": out})
}

type registrationView struct {
	Key          string    `json:"key"`
	Slot         int       `json:"slot"`
	Scope        string    `json:"scope"`
	Hint         string    `json:"hint"`
	Dependencies []string  `json:"dependencies"`
	Cached       bool      `json:"cached"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (d *Diagnostics) snapshot(c *gin.Context) {
	snap := d.registry().Snapshot()
	regs := snap.Registrations()
	views := make([]registrationView, 0, len(regs))
	for _, r := range regs {
		_, cached := r.Cached()
		views = append(views, registrationView{
			Key:          r.Key().String(),
			Slot:         r.Slot(),
			Scope:        r.Scope().String(),
			Hint:         r.Hint().String(),
			Dependencies: keyStrings(r.Dependencies()),
			Cached:       cached,
			RegisteredAt: r.RegisteredAt(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"version":       snap.Version(),
		"registrations": views,
	})
}

func (d *Diagnostics) graph(c *gin.Context) {
	reg := d.registry()
	nodes := make(map[string][]string)
	for key, deps := range reg.DependencyGraph() {
		nodes[key.String()] = keyStrings(deps)
	}
	resp := gin.H{"nodes": nodes}
	if c.Query("validate") == "true" {
		if err := reg.Validate(); err != nil {
			resp["error"] = err.Error()
		} else {
			resp["valid"] = true
		}
	}
	c.JSON(http.StatusOK, resp)
}

// MetricsHandler 返回导出注册表 Prometheus 指标的 gin 处理器
func MetricsHandler(registry func() *di.Registry) gin.HandlerFunc {
	return gin.WrapH(metrics.Handler(registrySource(registry), ""))
}

// registrySource 把注册表访问函数适配为 metrics.Source
type registrySource func() *di.Registry

func (f registrySource) Summary() di.Summary            { return f().Summary() }
func (f registrySource) UsageRecords() []di.UsageRecord { return f().UsageRecords() }

func keyStrings(keys []di.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
