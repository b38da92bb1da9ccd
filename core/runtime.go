package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/hosting"
	"github.com/gocrud/weavedi/logging"
)

// Runtime 是组合根的状态容器，所有 Option 都作用在它上面
type Runtime struct {
	// Registry 依赖注册表。Option 应通过 Runtime 本身（它实现了 di.Registrar）注册服务，
	// 这样 Reconfigure 重建注册表时注册不会丢失。
	Registry *di.Registry

	// Features 存放构建时特性（配置根、Web 服务器等）
	Features FeatureCollection

	// Lifecycle 启动/停止钩子
	Lifecycle *LifecycleEvents

	// Hosted 托管服务
	Hosted *hosting.Manager

	// Logger 运行时日志
	Logger logging.Logger

	// LoggerFactory 由 WithLogging 设置，未配置时为 nil
	LoggerFactory logging.LoggerFactory

	mu           sync.Mutex
	registryOpts []di.RegistryOption
	journal      []registration

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

type registration struct {
	key     di.Key
	factory di.Factory
	opts    []di.Option
}

var _ di.Registrar = (*Runtime)(nil)

// NewRuntime 创建一个新的运行时实例
func NewRuntime(opts ...di.RegistryOption) *Runtime {
	logger := logging.NewNopLogger()
	rt := &Runtime{
		Lifecycle:    NewLifecycle(logger),
		Hosted:       hosting.NewManager(logger),
		Logger:       logger,
		registryOpts: append([]di.RegistryOption(nil), opts...),
		shutdownCh:   make(chan struct{}),
	}
	rt.Registry = di.New(rt.registryOpts...)
	return rt
}

// Register 注册服务并记录下来，供 Reconfigure 重放
func (rt *Runtime) Register(key di.Key, factory di.Factory, opts ...di.Option) *di.Registration {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.journal = append(rt.journal, registration{key: key, factory: factory, opts: opts})
	return rt.Registry.Register(key, factory, opts...)
}

// Reconfigure 追加注册表选项并重建注册表
//
// 之前通过 Runtime 注册的服务按原顺序在一次 Bootstrap 中重放；已经创建的实例不会保留。
// 直接在旧 Registry 上的注册会丢失。
func (rt *Runtime) Reconfigure(opts ...di.RegistryOption) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.registryOpts = append(rt.registryOpts, opts...)
	next := di.New(rt.registryOpts...)
	err := next.Bootstrap(func(b *di.Batch) error {
		for _, r := range rt.journal {
			b.Register(r.key, r.factory, r.opts...)
		}
		return nil
	})
	if err != nil {
		_ = next.Close()
		return fmt.Errorf("core: 重建注册表失败: %w", err)
	}

	prev := rt.Registry
	rt.Registry = next
	rt.Logger.Debug("registry reconfigured",
		logging.Field{Key: "replayed", Value: len(rt.journal)})
	return prev.Close()
}

// UseLogger 设置运行时日志，并让注册表、生命周期和托管服务使用它
func (rt *Runtime) UseLogger(logger logging.Logger) error {
	if logger == nil {
		return nil
	}
	rt.Logger = logger
	rt.Lifecycle.SetLogger(logger)
	rt.Hosted.SetLogger(logger)
	return rt.Reconfigure(di.WithLogger(logger))
}

// Shutdown 请求应用退出，可以重复调用
func (rt *Runtime) Shutdown() {
	rt.shutdownOnce.Do(func() {
		close(rt.shutdownCh)
	})
}

// Done 返回一个通道，当应用需要退出时该通道会关闭
func (rt *Runtime) Done() <-chan struct{} {
	return rt.shutdownCh
}

// Provide 通过反射注册构造函数或结构体指针（语法糖）
func (rt *Runtime) Provide(target any, opts ...di.Option) error {
	_, err := di.Provide(rt, target, opts...)
	return err
}

// Invoke 调用函数并注入依赖（语法糖）
func (rt *Runtime) Invoke(fn any) error {
	return di.Invoke(context.Background(), rt.Registry, fn)
}

// Apply 依次应用 Option，遇到第一个错误即返回
func (rt *Runtime) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭注册表
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.Registry.Close()
}
