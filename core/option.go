package core

import (
	"context"
	"fmt"

	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/hosting"
	"github.com/gocrud/weavedi/logging"
)

// Option 定义了修改 Runtime 状态的函数签名
// 这是框架唯一的扩展点
type Option func(rt *Runtime) error

// WithRegistryOptions 追加注册表选项（设置、追踪等）并重建注册表
func WithRegistryOptions(opts ...di.RegistryOption) Option {
	return func(rt *Runtime) error {
		return rt.Reconfigure(opts...)
	}
}

// WithLogging 构建日志工厂，把 "weavedi" 分类的 Logger 交给运行时，
// 同时把 LoggerFactory 和 Logger 注册到注册表
func WithLogging(configure func(*logging.LoggingBuilder)) Option {
	return func(rt *Runtime) error {
		builder := logging.NewLoggingBuilder()
		if configure != nil {
			configure(builder)
		}
		if err := builder.Err(); err != nil {
			return fmt.Errorf("core: WithLogging: %w", err)
		}
		factory := builder.Build()
		rt.LoggerFactory = factory

		if err := rt.UseLogger(factory.CreateLogger("weavedi")); err != nil {
			return err
		}
		di.RegisterValue(rt, factory)
		di.RegisterValue(rt, rt.Logger)
		return nil
	}
}

// WithServices 在注册表上执行一组注册
//
// 与直接调用 di.Register 相比，body 中的注册通过 Runtime 记录，Reconfigure 时会被重放。
func WithServices(body func(reg di.Registrar) error) Option {
	return func(rt *Runtime) error {
		return body(rt)
	}
}

// WithHostedService 注册一个托管服务
//
// constructor 交给 di.Provide，得到的类型必须实现 hosting.HostedService。
// 启动时从注册表解析实例并交给 Hosted 管理器。
func WithHostedService(constructor any, opts ...di.Option) Option {
	return func(rt *Runtime) error {
		key, err := di.Provide(rt, constructor, opts...)
		if err != nil {
			return fmt.Errorf("core: WithHostedService: %w", err)
		}
		if !key.Type().Implements(di.TypeOf[hosting.HostedService]()) {
			return fmt.Errorf("core: WithHostedService: %v 没有实现 hosting.HostedService", key.Type())
		}

		rt.Lifecycle.OnStart(func(ctx context.Context) error {
			v, err := rt.Registry.Require(ctx, key)
			if err != nil {
				return fmt.Errorf("core: 解析托管服务 %v 失败: %w", key, err)
			}
			rt.Hosted.Add(v.(hosting.HostedService))
			return nil
		})
		return nil
	}
}

// WithWorker 将一个阻塞的函数注册为后台服务
func WithWorker(name string, fn hosting.WorkerFunc) Option {
	return func(rt *Runtime) error {
		rt.Hosted.Add(hosting.NewWorker(name, fn))
		return nil
	}
}
