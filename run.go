package weavedi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gocrud/weavedi/core"
	"github.com/gocrud/weavedi/logging"
	"go.uber.org/multierr"
)

// ShutdownTimeout 优雅关闭的超时时间
var ShutdownTimeout = 5 * time.Second

// Run 启动应用程序，直到收到 SIGINT/SIGTERM 或运行时请求退出
func Run(opts ...core.Option) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, opts...)
}

// RunContext 与 Run 相同，但由 ctx 控制退出
func RunContext(ctx context.Context, opts ...core.Option) (err error) {
	rt := core.NewRuntime()
	defer func() {
		err = multierr.Append(err, rt.Close())
	}()

	// 1. 应用所有选项：配置、日志、注册服务、添加钩子
	if err := rt.Apply(opts...); err != nil {
		return err
	}

	// 2. 静态校验依赖图
	if err := rt.Registry.Validate(); err != nil {
		rt.Logger.Error("dependency graph is invalid", logging.Field{Key: "error", Value: err})
		return fmt.Errorf("weavedi: %w", err)
	}

	// 3. 启动生命周期和托管服务
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := rt.Lifecycle.Start(runCtx); err != nil {
		return err
	}
	errCh := rt.Hosted.StartAll(runCtx)
	rt.Logger.Info("application started",
		logging.Field{Key: "registrations", Value: rt.Registry.Snapshot().Len()},
		logging.Field{Key: "hosted", Value: rt.Hosted.Len()},
		logging.Field{Key: "features", Value: rt.Features.Types()})

	// 4. 阻塞等待退出
	var cause error
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-rt.Done():
			break wait
		case serviceErr, ok := <-errCh:
			if !ok {
				// 全部服务正常结束，继续等待退出信号
				errCh = nil
				continue
			}
			cause = serviceErr
			break wait
		}
	}

	// 5. 优雅关闭
	rt.Logger.Info("application stopping")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	stopErr := rt.Hosted.StopAll(shutdownCtx)
	cancel()
	stopErr = multierr.Append(stopErr, rt.Lifecycle.Stop(shutdownCtx))
	if stopErr != nil && !errors.Is(stopErr, context.Canceled) {
		cause = multierr.Append(cause, stopErr)
	}
	return cause
}
