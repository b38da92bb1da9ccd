package web

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/gocrud/weavedi/core"
	"github.com/gocrud/weavedi/di"
)

// BuilderOption 用于配置 Web Builder
type BuilderOption func(*settings)

type settings struct {
	addr        string
	controllers []any
	diagnostics *string
	metricsPath string
	middleware  []gin.HandlerFunc
}

// WithPort 设置端口
func WithPort(port int) BuilderOption {
	return func(s *settings) {
		s.addr = fmt.Sprintf(":%d", port)
	}
}

// WithAddr 设置监听地址
func WithAddr(addr string) BuilderOption {
	return func(s *settings) {
		s.addr = addr
	}
}

// WithControllers 添加控制器
// 参数可以是构造函数（推荐，支持构造函数注入）或结构体指针（支持 di 标签字段注入）
func WithControllers(controllers ...any) BuilderOption {
	return func(s *settings) {
		s.controllers = append(s.controllers, controllers...)
	}
}

// WithDiagnostics 挂载注册表诊断路由，prefix 为空时使用 /debug/di
func WithDiagnostics(prefix string) BuilderOption {
	return func(s *settings) {
		s.diagnostics = &prefix
	}
}

// WithMetrics 在 path 上导出 Prometheus 指标，path 为空时使用 /metrics
func WithMetrics(path string) BuilderOption {
	return func(s *settings) {
		if path == "" {
			path = "/metrics"
		}
		s.metricsPath = path
	}
}

// WithMiddleware 添加全局中间件
func WithMiddleware(middleware ...gin.HandlerFunc) BuilderOption {
	return func(s *settings) {
		s.middleware = append(s.middleware, middleware...)
	}
}

// New 启用 Web 能力
//
// 控制器通过 di.Provide 注册，启动时解析并挂载路由。
// Host 作为托管服务运行，同时注册到注册表和运行时特性中。
func New(opts ...BuilderOption) core.Option {
	return func(rt *core.Runtime) error {
		s := &settings{addr: ":8080"}
		for _, opt := range opts {
			opt(s)
		}

		builder := NewBuilder().UseLogger(rt.Logger).UseAddr(s.addr).Use(s.middleware...)
		for _, ctor := range s.controllers {
			key, err := di.Provide(rt, ctor)
			if err != nil {
				return fmt.Errorf("web: 注册控制器 %T 失败: %w", ctor, err)
			}
			builder.AddControllers(key)
		}

		registry := func() *di.Registry { return rt.Registry }
		if s.diagnostics != nil {
			builder.Mount(NewDiagnostics(registry, *s.diagnostics).MountRoutes)
		}
		if s.metricsPath != "" {
			path := s.metricsPath
			builder.Mount(func(r gin.IRouter) { r.GET(path, MetricsHandler(registry)) })
		}

		host := builder.Build(func() di.Resolver { return rt.Registry })
		di.RegisterValue(rt, host)
		rt.Features.Set(host)
		rt.Hosted.Add(host)
		return nil
	}
}
