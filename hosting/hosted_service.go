package hosting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gocrud/weavedi/logging"
	"go.uber.org/multierr"
)

// HostedService 托管服务接口
// 框架会在独立的 goroutine 中调用 Start，服务无需自己启动 goroutine
type HostedService interface {
	// Start 启动服务。该方法应阻塞执行，直到 ctx 被取消或发生错误。
	Start(ctx context.Context) error

	// Stop 执行优雅关闭逻辑，必须遵守 ctx 的超时。
	Stop(ctx context.Context) error
}

// Named 可选接口，用于在日志中标识服务
type Named interface {
	Name() string
}

// Manager 托管服务管理器
type Manager struct {
	services []HostedService
	logger   logging.Logger
	mu       sync.RWMutex
	wg       sync.WaitGroup
	started  bool
}

// NewManager 创建托管服务管理器
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{logger: logger.WithCategory("hosting")}
}

// SetLogger 替换日志记录器，只应在 StartAll 之前调用
func (m *Manager) SetLogger(logger logging.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger != nil {
		m.logger = logger.WithCategory("hosting")
	}
}

// Add 添加托管服务。StartAll 之后添加的服务不会被启动。
func (m *Manager) Add(service HostedService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		m.logger.Warn("hosted service added after start, ignored",
			logging.Field{Key: "service", Value: serviceName(service, len(m.services))})
		return
	}
	m.services = append(m.services, service)
}

// Len 返回已添加的服务数量
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// StartAll 并发启动所有托管服务
// 返回的通道接收服务 Start 返回的非取消错误，全部服务退出后关闭
func (m *Manager) StartAll(ctx context.Context) <-chan error {
	m.mu.Lock()
	m.started = true
	services := append([]HostedService(nil), m.services...)
	m.mu.Unlock()

	errCh := make(chan error, len(services))
	m.logger.Info("starting hosted services", logging.Field{Key: "count", Value: len(services)})

	for i, svc := range services {
		name := serviceName(svc, i)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.logger.Debug("hosted service starting", logging.Field{Key: "service", Value: name})

			err := svc.Start(ctx)
			switch {
			case err == nil:
				m.logger.Debug("hosted service completed", logging.Field{Key: "service", Value: name})
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				m.logger.Debug("hosted service stopped (context done)", logging.Field{Key: "service", Value: name})
			default:
				m.logger.Error("hosted service failed",
					logging.Field{Key: "service", Value: name},
					logging.Field{Key: "error", Value: err})
				errCh <- fmt.Errorf("hosting: %s: %w", name, err)
			}
		}()
	}

	go func() {
		m.wg.Wait()
		close(errCh)
	}()
	return errCh
}

// StopAll 按添加的逆序并发停止所有服务，汇总全部错误
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	services := append([]HostedService(nil), m.services...)
	m.mu.RUnlock()

	m.logger.Info("stopping hosted services", logging.Field{Key: "count", Value: len(services)})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for i := len(services) - 1; i >= 0; i-- {
		svc, name := services[i], serviceName(services[i], i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Stop(ctx); err != nil {
				m.logger.Error("failed to stop hosted service",
					logging.Field{Key: "service", Value: name},
					logging.Field{Key: "error", Value: err})
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("hosting: %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	m.logger.Info("all hosted services stopped")
	return errs
}

// Wait 等待所有服务的 Start 返回
func (m *Manager) Wait() {
	m.wg.Wait()
}

func serviceName(svc HostedService, index int) string {
	if n, ok := svc.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T#%d", svc, index+1)
}

// WorkerFunc 简单的阻塞后台任务，通过 ctx.Done() 判断退出
type WorkerFunc func(ctx context.Context) error

// Worker 把 WorkerFunc 适配为 HostedService：Start 时运行，Stop 时取消
type Worker struct {
	name string
	fn   WorkerFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker 创建后台任务服务
func NewWorker(name string, fn WorkerFunc) *Worker {
	return &Worker{name: name, fn: fn, done: make(chan struct{})}
}

func (w *Worker) Name() string { return w.name }

// Start 运行任务直到返回或 ctx 取消
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer close(w.done)
	defer cancel()
	return w.fn(ctx)
}

// Stop 取消任务并等待其退出
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
