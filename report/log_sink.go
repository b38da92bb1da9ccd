package report

import (
	"context"

	"github.com/gocrud/weavedi/logging"
)

// LogSink 把报告写入日志：摘要为 Info，前 Top 个条目为 Debug
type LogSink struct {
	Logger logging.Logger
	Top    int
}

func (s *LogSink) Write(_ context.Context, r *Report) error {
	s.Logger.Info("usage report",
		logging.Field{Key: "report", Value: r.ID},
		logging.Field{Key: "window", Value: r.GeneratedAt.Sub(r.WindowStart)},
		logging.Field{Key: "registrations", Value: r.Registrations},
		logging.Field{Key: "resolutions", Value: r.Counters.Resolutions},
		logging.Field{Key: "failures", Value: r.Counters.Failures},
		logging.Field{Key: "optimized", Value: len(r.Optimized)},
		logging.Field{Key: "cycles", Value: len(r.Cycles)})

	top := s.Top
	if top <= 0 || top > len(r.Entries) {
		top = len(r.Entries)
	}
	for _, e := range r.Entries[:top] {
		s.Logger.Debug("usage report entry",
			logging.Field{Key: "key", Value: e.Key},
			logging.Field{Key: "count", Value: e.Count},
			logging.Field{Key: "delta", Value: e.Delta})
	}
	return nil
}
