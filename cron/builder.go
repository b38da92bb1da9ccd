package cron

import (
	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/logging"
)

type jobDefinition struct {
	spec    string
	name    string
	handler any
}

// Builder Cron 配置构建器
type Builder struct {
	options Options
	jobs    []jobDefinition
}

// NewBuilder 创建 Cron 构建器
func NewBuilder() *Builder {
	return &Builder{options: Options{Location: "UTC"}}
}

// WithSeconds 启用秒级精度
func (b *Builder) WithSeconds() *Builder {
	b.options.EnableSeconds = true
	return b
}

// WithLocation 设置时区
func (b *Builder) WithLocation(location string) *Builder {
	b.options.Location = location
	return b
}

// EnableCronLogger 启用 cron 库的内部调度日志
func (b *Builder) EnableCronLogger() *Builder {
	b.options.EnableCronLogger = true
	return b
}

// AddJob 添加任务，handler 的参数在执行时从注册表解析
//
//	builder.AddJob("*/5 * * * *", "sync-data", func(ctx context.Context, svc *DataService) error {
//	    return svc.Sync(ctx)
//	})
func (b *Builder) AddJob(spec, name string, handler any) *Builder {
	b.jobs = append(b.jobs, jobDefinition{spec: spec, name: name, handler: handler})
	return b
}

// Build 创建调度器并添加所有任务，表达式错误在这里返回
func (b *Builder) Build(logger logging.Logger, resolver func() di.Resolver) (*Scheduler, error) {
	s, err := NewScheduler(logger, resolver, func(o *Options) { *o = b.options })
	if err != nil {
		return nil, err
	}
	for _, job := range b.jobs {
		if err := s.AddJob(job.spec, job.name, job.handler); err != nil {
			return nil, err
		}
	}
	return s, nil
}
