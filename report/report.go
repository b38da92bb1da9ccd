// Package report 周期性汇总注册表的使用统计，并写入一个或多个存储。
package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/logging"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Entry 单个类型在一份报告中的统计
type Entry struct {
	Key            string
	Slot           int
	Count          uint64
	Delta          uint64
	LastResolvedAt time.Time
}

// Report 某个时间窗口的使用报告
type Report struct {
	ID              string
	WindowStart     time.Time
	GeneratedAt     time.Time
	SnapshotVersion uint64
	Registrations   int
	Counters        di.Counters
	Optimized       []string
	Cycles          [][]string
	Entries         []Entry
}

// Source 报告读取的注册表子集
type Source interface {
	Summary() di.Summary
	UsageRecords() []di.UsageRecord
}

// Sink 报告的写入目标
type Sink interface {
	Write(ctx context.Context, r *Report) error
}

// SinkFunc 函数形式的 Sink
type SinkFunc func(ctx context.Context, r *Report) error

func (f SinkFunc) Write(ctx context.Context, r *Report) error { return f(ctx, r) }

// Reporter 生成报告并分发给所有 Sink
//
// 每份报告的 Delta 是相对上一份报告的增量，第一份报告的窗口从 Reporter 创建时开始。
type Reporter struct {
	source Source
	logger logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	sinks   []Sink
	last    map[string]uint64
	lastAt  time.Time
	flushed int
}

// NewReporter 创建报告器
func NewReporter(source Source, logger logging.Logger, sinks ...Sink) *Reporter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Reporter{
		source: source,
		logger: logger.WithCategory("report"),
		now:    time.Now,
		sinks:  sinks,
		last:   make(map[string]uint64),
		lastAt: time.Now(),
	}
}

// AddSink 追加写入目标
func (r *Reporter) AddSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// Collect 生成一份报告并推进窗口
func (r *Reporter) Collect() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collectLocked()
}

func (r *Reporter) collectLocked() *Report {
	summary := r.source.Summary()
	now := r.now()
	rep := &Report{
		ID:              uuid.NewString(),
		WindowStart:     r.lastAt,
		GeneratedAt:     now,
		SnapshotVersion: summary.SnapshotVersion,
		Registrations:   summary.Registrations,
		Counters:        summary.Counters,
		Optimized:       keyStrings(summary.Optimized),
	}
	for _, cycle := range summary.Cycles {
		rep.Cycles = append(rep.Cycles, keyStrings(cycle))
	}

	next := make(map[string]uint64, len(r.last))
	for _, rec := range r.source.UsageRecords() {
		k := rec.Key.String()
		var delta uint64
		// ResetStats 之后计数可能变小
		if prev := r.last[k]; rec.Count >= prev {
			delta = rec.Count - prev
		} else {
			delta = rec.Count
		}
		rep.Entries = append(rep.Entries, Entry{
			Key:            k,
			Slot:           rec.Slot,
			Count:          rec.Count,
			Delta:          delta,
			LastResolvedAt: rec.LastResolvedAt,
		})
		next[k] = rec.Count
	}
	r.last = next
	r.lastAt = now
	return rep
}

// Flush 生成报告并写入全部 Sink，汇总所有写入错误
func (r *Reporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	rep := r.collectLocked()
	sinks := append([]Sink(nil), r.sinks...)
	r.flushed++
	r.mu.Unlock()

	var errs error
	for i, s := range sinks {
		if err := s.Write(ctx, rep); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("report: sink #%d (%T): %w", i+1, s, err))
		}
	}
	if errs != nil {
		r.logger.Error("usage report delivery failed",
			logging.Field{Key: "report", Value: rep.ID},
			logging.Field{Key: "error", Value: errs})
		return errs
	}
	r.logger.Debug("usage report delivered",
		logging.Field{Key: "report", Value: rep.ID},
		logging.Field{Key: "sinks", Value: len(sinks)},
		logging.Field{Key: "entries", Value: len(rep.Entries)})
	return nil
}

// Flushed 返回 Flush 被调用的次数
func (r *Reporter) Flushed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushed
}

func keyStrings(keys []di.Key) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
