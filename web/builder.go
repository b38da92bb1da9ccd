package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/logging"
)

// Controller 简单的控制器接口标记
type Controller interface {
	// MountRoutes 注册路由
	MountRoutes(router gin.IRouter)
}

// Builder Web 主机构建器（基于 Gin）
type Builder struct {
	logger      logging.Logger
	addr        string
	engine      *gin.Engine
	controllers []di.Key
	mounts      []func(gin.IRouter)
}

// NewBuilder 创建 Web 构建器
func NewBuilder() *Builder {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Builder{
		logger: logging.NewNopLogger(),
		addr:   ":8080",
		engine: engine,
	}
}

// UseLogger 设置日志记录器
func (b *Builder) UseLogger(logger logging.Logger) *Builder {
	if logger != nil {
		b.logger = logger.WithCategory("web")
	}
	return b
}

// UseAddr 设置监听地址，端口为 0 时随机分配
func (b *Builder) UseAddr(addr string) *Builder {
	b.addr = addr
	return b
}

// UsePort 设置端口
func (b *Builder) UsePort(port int) *Builder {
	b.addr = fmt.Sprintf(":%d", port)
	return b
}

// Use 使用全局中间件
func (b *Builder) Use(middleware ...gin.HandlerFunc) *Builder {
	b.engine.Use(middleware...)
	return b
}

// Mount 添加一组在启动时注册的路由
func (b *Builder) Mount(fn func(gin.IRouter)) *Builder {
	b.mounts = append(b.mounts, fn)
	return b
}

// AddControllers 记录需要在启动时从注册表解析的控制器
func (b *Builder) AddControllers(keys ...di.Key) *Builder {
	b.controllers = append(b.controllers, keys...)
	return b
}

// Engine 获取 Gin 引擎（用于高级定制）
func (b *Builder) Engine() *gin.Engine {
	return b.engine
}

// Build 构建 Web 主机。resolver 在启动时用于解析控制器。
func (b *Builder) Build(resolver func() di.Resolver) *Host {
	return &Host{
		addr:        b.addr,
		engine:      b.engine,
		logger:      b.logger,
		resolver:    resolver,
		controllers: append([]di.Key(nil), b.controllers...),
		mounts:      slices.Clone(b.mounts),
		ready:       make(chan struct{}),
	}
}

// Host Web 主机，实现 hosting.HostedService
type Host struct {
	addr        string
	engine      *gin.Engine
	logger      logging.Logger
	resolver    func() di.Resolver
	controllers []di.Key
	mounts      []func(gin.IRouter)

	mu     sync.Mutex
	server *http.Server
	bound  string
	ready  chan struct{}
}

func (h *Host) Name() string { return "web" }

// Handler 返回 HTTP 处理器，测试中可以直接使用
func (h *Host) Handler() http.Handler {
	return h.engine
}

// Address 返回实际监听地址，仅在 Ready 关闭后有效
func (h *Host) Address() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bound
}

// Ready 在开始监听后关闭
func (h *Host) Ready() <-chan struct{} {
	return h.ready
}

// Start 注册路由并开始服务，阻塞直到服务器关闭
func (h *Host) Start(ctx context.Context) error {
	if err := h.mapRoutes(ctx); err != nil {
		return fmt.Errorf("web: %w", err)
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("web: failed to listen on %s: %w", h.addr, err)
	}
	server := &http.Server{
		Handler:     h.engine,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	h.mu.Lock()
	h.server = server
	h.bound = ln.Addr().String()
	h.mu.Unlock()
	close(h.ready)

	h.logger.Info("web host started", logging.Field{Key: "address", Value: ln.Addr().String()})
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		h.logger.Error("web host error", logging.Field{Key: "error", Value: err})
		return err
	}
	return nil
}

// Stop 优雅关闭
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	server := h.server
	h.mu.Unlock()
	if server == nil {
		return nil
	}

	h.logger.Info("stopping web host")
	if err := server.Shutdown(ctx); err != nil {
		h.logger.Error("failed to shutdown web host gracefully", logging.Field{Key: "error", Value: err})
		return err
	}
	h.logger.Info("web host stopped")
	return nil
}

func (h *Host) mapRoutes(ctx context.Context) error {
	for _, mount := range h.mounts {
		mount(h.engine)
	}
	for _, key := range h.controllers {
		if h.resolver == nil {
			return fmt.Errorf("no resolver for controller %v", key)
		}
		instance, err := h.resolver().Require(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to resolve controller %v: %w", key, err)
		}
		ctrl, ok := instance.(Controller)
		if !ok {
			return fmt.Errorf("%v does not implement web.Controller", key)
		}
		ctrl.MountRoutes(h.engine)
		h.logger.Debug("mapped controller routes", logging.Field{Key: "controller", Value: key.String()})
	}
	return nil
}
