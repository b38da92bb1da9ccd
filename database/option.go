package database

import (
	"context"
	"fmt"

	"github.com/gocrud/weavedi/core"
	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/logging"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

// BuilderOption 用于配置数据库
type BuilderOption func(*builder)

type builder struct {
	configs []DatabaseOptions
	errs    error
}

// WithDatabase 添加数据库配置
// dialector: GORM 驱动，如 sqlite.Open("app.db")
func WithDatabase(name string, dialector gorm.Dialector, opts ...func(*DatabaseOptions)) BuilderOption {
	return func(b *builder) {
		o := NewDefaultOptions(name, dialector)
		for _, opt := range opts {
			opt(o)
		}
		if err := o.Validate(); err != nil {
			b.errs = multierr.Append(b.errs, fmt.Errorf("invalid configuration for '%s': %w", name, err))
			return
		}
		b.configs = append(b.configs, *o)
	}
}

// WithAutoMigrate 打开数据库后迁移给定模型
func WithAutoMigrate(models ...any) func(*DatabaseOptions) {
	return func(o *DatabaseOptions) {
		o.AutoMigrate = append(o.AutoMigrate, models...)
	}
}

// New 启用数据库能力
//
// 每个数据库以名称注册为 *gorm.DB，"default" 同时注册为默认实例。
func New(opts ...BuilderOption) core.Option {
	return func(rt *core.Runtime) error {
		b := &builder{}
		for _, opt := range opts {
			opt(b)
		}
		if b.errs != nil {
			return b.errs
		}
		if len(b.configs) == 0 {
			return nil
		}

		logger := rt.Logger.WithCategory("database")
		factory := NewDatabaseFactory()
		for _, cfg := range b.configs {
			if err := factory.Register(cfg); err != nil {
				return multierr.Append(err, factory.Close())
			}
			logger.Info("database registered",
				logging.Field{Key: "name", Value: cfg.Name},
				logging.Field{Key: "dialector", Value: cfg.Dialector.Name()})
		}

		di.RegisterValue(rt, factory)
		factory.Each(func(name string, db *gorm.DB) {
			di.RegisterValue(rt, db, di.WithName(name))
			if name == "default" {
				di.RegisterValue(rt, db)
			}
		})

		rt.Lifecycle.OnStop(func(context.Context) error {
			logger.Info("closing database connections")
			return factory.Close()
		})
		return nil
	}
}
