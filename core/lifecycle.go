package core

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/gocrud/weavedi/logging"
	"go.uber.org/multierr"
)

// LifecycleEvents 管理应用程序的启动和停止钩子
type LifecycleEvents struct {
	mu      sync.Mutex
	onStart []func(context.Context) error
	onStop  []func(context.Context) error
	logger  logging.Logger
}

// NewLifecycle 创建新的生命周期管理器
func NewLifecycle(logger logging.Logger) *LifecycleEvents {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &LifecycleEvents{logger: logger.WithCategory("lifecycle")}
}

// SetLogger 替换日志记录器
func (l *LifecycleEvents) SetLogger(logger logging.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger = logger.WithCategory("lifecycle")
}

// OnStart 注册启动钩子
func (l *LifecycleEvents) OnStart(fn func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStart = append(l.onStart, fn)
}

// OnStop 注册停止钩子
func (l *LifecycleEvents) OnStop(fn func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStop = append(l.onStop, fn)
}

// Start 按注册顺序执行启动钩子，遇到第一个错误即返回
func (l *LifecycleEvents) Start(ctx context.Context) error {
	l.mu.Lock()
	hooks := slices.Clone(l.onStart)
	logger := l.logger
	l.mu.Unlock()

	for i, fn := range hooks {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("core: 启动钩子 #%d 失败: %w", i+1, err)
		}
	}
	logger.Debug("lifecycle started", logging.Field{Key: "hooks", Value: len(hooks)})
	return nil
}

// Stop 倒序执行停止钩子。单个钩子失败不会中断其余钩子，错误被汇总返回。
func (l *LifecycleEvents) Stop(ctx context.Context) error {
	l.mu.Lock()
	hooks := slices.Clone(l.onStop)
	logger := l.logger
	l.mu.Unlock()

	var errs error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			logger.Error("stop hook failed",
				logging.Field{Key: "hook", Value: i + 1},
				logging.Field{Key: "error", Value: err})
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
