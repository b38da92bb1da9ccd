package cron

import (
	"context"
	"fmt"

	"github.com/gocrud/weavedi/config"
	"github.com/gocrud/weavedi/core"
	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/logging"
)

// SectionName 调度器读取的配置节
const SectionName = "cron"

// BuilderOption 用于配置 Cron Builder
type BuilderOption func(*Builder)

// WithSeconds 启用秒级精度
func WithSeconds() BuilderOption { return func(b *Builder) { b.WithSeconds() } }

// WithLocation 设置时区
func WithLocation(location string) BuilderOption {
	return func(b *Builder) { b.WithLocation(location) }
}

func EnableCronLogger() BuilderOption { return func(b *Builder) { b.EnableCronLogger() } }

// AddJob 添加任务
func AddJob(spec, name string, handler any) BuilderOption {
	return func(b *Builder) { b.AddJob(spec, name, handler) }
}

// New 启用 Cron 能力
//
// 使用过 config.Load 时先读取 cron 配置节（location、seconds、logger）作为默认值，
// 显式传入的选项优先。调度器作为托管服务运行，同时注册到注册表和运行时特性中，
// 其他 Option 可以通过 core.GetFeature[*cron.Scheduler] 追加任务。
func New(opts ...BuilderOption) core.Option {
	return func(rt *core.Runtime) error {
		builder := NewBuilder()
		if root, ok := core.GetFeature[*config.Root](rt); ok && root.Exists(SectionName) {
			if err := root.Bind(SectionName, &builder.options); err != nil {
				return fmt.Errorf("cron: %w", err)
			}
		}
		for _, opt := range opts {
			opt(builder)
		}

		scheduler, err := builder.Build(rt.Logger, func() di.Resolver { return rt.Registry })
		if err != nil {
			return err
		}

		di.RegisterValue(rt, scheduler)
		rt.Features.Set(scheduler)
		rt.Hosted.Add(scheduler)
		rt.Lifecycle.OnStart(func(context.Context) error {
			rt.Logger.Debug("cron jobs registered",
				logging.Field{Key: "jobs", Value: scheduler.Jobs()},
				logging.Field{Key: "location", Value: builder.options.Location})
			return nil
		})
		return nil
	}
}
