package cron

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/logging"
	"github.com/robfig/cron/v3"
)

// Options 调度器配置，可以从配置节 cron 读取
type Options struct {
	// Location 时区，默认 UTC
	Location string `yaml:"location"`
	// EnableSeconds 启用秒级表达式（6 段）
	EnableSeconds bool `yaml:"seconds"`
	// EnableCronLogger 输出 cron 库内部的调度日志
	EnableCronLogger bool `yaml:"logger"`
}

// Scheduler Cron 定时任务托管服务
//
// 任务处理函数可以是 func()、func(context.Context) error，
// 或者任意参数可以从注册表解析的函数（通过 di.Invoke 调用）。
type Scheduler struct {
	cron     *cron.Cron
	logger   logging.Logger
	resolver func() di.Resolver

	mu     sync.Mutex
	jobs   map[string]cron.EntryID
	runCtx context.Context
	stopCh chan struct{}
}

// NewScheduler 创建调度器。resolver 在每次执行依赖注入任务时调用，可以为 nil。
func NewScheduler(logger logging.Logger, resolver func() di.Resolver, opts ...func(*Options)) (*Scheduler, error) {
	opt := &Options{Location: "UTC"}
	for _, o := range opts {
		o(opt)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithCategory("cron")

	loc, err := time.LoadLocation(opt.Location)
	if err != nil {
		return nil, fmt.Errorf("cron: 无效的时区 '%s': %w", opt.Location, err)
	}

	cronOpts := []cron.Option{
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(newCronLogger(logger))),
	}
	if opt.EnableCronLogger {
		cronOpts = append(cronOpts, cron.WithLogger(newCronLogger(logger)))
	}
	if opt.EnableSeconds {
		cronOpts = append(cronOpts, cron.WithSeconds())
	}

	return &Scheduler{
		cron:     cron.New(cronOpts...),
		logger:   logger,
		resolver: resolver,
		jobs:     make(map[string]cron.EntryID),
		runCtx:   context.Background(),
		stopCh:   make(chan struct{}),
	}, nil
}

func (s *Scheduler) Name() string { return "cron" }

// AddJob 添加定时任务
// spec: cron 表达式，如 "*/5 * * * *" 或 "@every 1m"
func (s *Scheduler) AddJob(spec, name string, handler any) error {
	run, err := s.wrap(handler)
	if err != nil {
		return fmt.Errorf("cron: 任务 '%s': %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("cron: 任务 '%s' 已存在", name)
	}

	id, err := s.cron.AddFunc(spec, func() { s.execute(name, run) })
	if err != nil {
		return fmt.Errorf("cron: 添加任务 '%s' 失败: %w", name, err)
	}
	s.jobs[name] = id
	s.logger.Info("cron job registered",
		logging.Field{Key: "job", Value: name},
		logging.Field{Key: "spec", Value: spec})
	return nil
}

// RemoveJob 移除定时任务
func (s *Scheduler) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, exists := s.jobs[name]
	if !exists {
		return false
	}
	s.cron.Remove(id)
	delete(s.jobs, name)
	s.logger.Info("cron job removed", logging.Field{Key: "job", Value: name})
	return true
}

// Jobs 返回已注册的任务名称（按字母序）
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next 返回任务下一次执行的时间，调度器未启动时为零值
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, exists := s.jobs[name]
	s.mu.Unlock()
	if !exists {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start 实现 hosting.HostedService，阻塞直到 ctx 取消或 Stop 被调用
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	count := len(s.jobs)
	s.mu.Unlock()

	s.logger.Info("cron scheduler starting", logging.Field{Key: "jobs", Value: count})
	s.cron.Start()

	select {
	case <-s.stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 实现 hosting.HostedService，等待正在执行的任务结束或 ctx 超时
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.mu.Unlock()

	s.logger.Info("cron scheduler stopping")
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) wrap(handler any) (func(context.Context) error, error) {
	switch h := handler.(type) {
	case nil:
		return nil, fmt.Errorf("处理函数为 nil")
	case func():
		return func(context.Context) error { h(); return nil }, nil
	case func(context.Context) error:
		return h, nil
	}
	if reflect.TypeOf(handler).Kind() != reflect.Func {
		return nil, fmt.Errorf("处理函数必须是函数，得到 %T", handler)
	}
	return func(ctx context.Context) error {
		if s.resolver == nil {
			return fmt.Errorf("没有可用的注册表")
		}
		return di.Invoke(ctx, s.resolver(), handler)
	}, nil
}

func (s *Scheduler) execute(name string, run func(context.Context) error) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	start := time.Now()
	s.logger.Debug("cron job started", logging.Field{Key: "job", Value: name})
	if err := run(ctx); err != nil {
		s.logger.Error("cron job failed",
			logging.Field{Key: "job", Value: name},
			logging.Field{Key: "error", Value: err})
		return
	}
	s.logger.Debug("cron job completed",
		logging.Field{Key: "job", Value: name},
		logging.Field{Key: "elapsed", Value: time.Since(start)})
}

// cronLogger 适配器：将框架日志接口适配到 cron 的日志接口
type cronLogger struct {
	logger logging.Logger
}

func newCronLogger(logger logging.Logger) cron.Logger {
	return &cronLogger{logger: logger}
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, convertToFields(keysAndValues)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := convertToFields(keysAndValues)
	fields = append(fields, logging.Field{Key: "error", Value: err})
	l.logger.Error(msg, fields...)
}

func convertToFields(keysAndValues []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logging.Field{Key: fmt.Sprint(keysAndValues[i]), Value: keysAndValues[i+1]})
	}
	return fields
}
