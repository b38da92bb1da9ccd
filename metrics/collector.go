// Package metrics 以 Prometheus 指标的形式导出注册表的遥测数据。
package metrics

import (
	"net/http"

	"github.com/gocrud/weavedi/di"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source 是 Collector 读取的注册表子集
type Source interface {
	Summary() di.Summary
	UsageRecords() []di.UsageRecord
}

var _ Source = (*di.Registry)(nil)

// Collector 在每次抓取时读取注册表状态，不在解析路径上做任何额外工作
type Collector struct {
	source Source

	resolutions *prometheus.Desc
	failures    *prometheus.Desc
	cycles      *prometheus.Desc
	redundant   *prometheus.Desc
	registered  *prometheus.Desc
	slots       *prometheus.Desc
	version     *prometheus.Desc
	optimized   *prometheus.Desc
	perType     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector 创建收集器，namespace 为空时使用 "weavedi"
func NewCollector(source Source, namespace string) *Collector {
	if namespace == "" {
		namespace = "weavedi"
	}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		source:      source,
		resolutions: desc("resolutions_total", "Total number of successful resolutions"),
		failures:    desc("resolution_failures_total", "Total number of failed resolutions"),
		cycles:      desc("cycles_detected_total", "Total number of circular dependencies detected"),
		redundant:   desc("redundant_constructions_total", "Singleton constructions discarded after losing the install race"),
		registered:  desc("registrations", "Number of registrations in the current snapshot"),
		slots:       desc("slots", "Number of type slots allocated"),
		version:     desc("snapshot_version", "Version of the current snapshot"),
		optimized:   desc("optimized_types", "Number of types above the frequent-use threshold"),
		perType:     desc("type_resolutions_total", "Resolutions per registered type", "key"),
	}
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.resolutions
	ch <- c.failures
	ch <- c.cycles
	ch <- c.redundant
	ch <- c.registered
	ch <- c.slots
	ch <- c.version
	ch <- c.optimized
	ch <- c.perType
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Summary()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.resolutions, s.Counters.Resolutions)
	counter(c.failures, s.Counters.Failures)
	counter(c.cycles, s.Counters.CyclesDetected)
	counter(c.redundant, s.Counters.RedundantConstructions)
	gauge(c.registered, float64(s.Registrations))
	gauge(c.slots, float64(s.Slots))
	gauge(c.version, float64(s.SnapshotVersion))
	gauge(c.optimized, float64(len(s.Optimized)))

	for _, rec := range c.source.UsageRecords() {
		ch <- prometheus.MustNewConstMetric(c.perType, prometheus.CounterValue, float64(rec.Count), rec.Key.String())
	}
}

// NewRegistry 返回只包含该收集器的 Prometheus 注册表
func NewRegistry(source Source, namespace string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(source, namespace))
	return reg
}

// Handler 返回导出 source 指标的 HTTP 处理器
func Handler(source Source, namespace string) http.Handler {
	return promhttp.HandlerFor(NewRegistry(source, namespace), promhttp.HandlerOpts{})
}
