package mongodb

import (
	"context"
	"fmt"

	"github.com/gocrud/weavedi/core"
	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/logging"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/multierr"
)

// BuilderOption 用于配置 MongoDB
type BuilderOption func(*builder)

type builder struct {
	configs []MongoOptions
	errs    error
}

// WithClient 添加 MongoDB 客户端配置
func WithClient(name, uri string, opts ...func(*MongoOptions)) BuilderOption {
	return func(b *builder) {
		o := NewDefaultOptions(name, uri)
		for _, opt := range opts {
			opt(o)
		}
		if err := o.Validate(); err != nil {
			b.errs = multierr.Append(b.errs, fmt.Errorf("invalid mongo configuration for '%s': %w", name, err))
			return
		}
		b.configs = append(b.configs, *o)
	}
}

// WithDatabase 设置默认数据库
func WithDatabase(db string) func(*MongoOptions) {
	return func(o *MongoOptions) { o.Database = db }
}

// New 启用 MongoDB 能力
//
// 客户端以名称注册为 *mongo.Client，"default" 同时注册为默认实例；
// 配置了默认数据库的客户端还会以同一名称注册 *mongo.Database。
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

		logger := rt.Logger.WithCategory("mongodb")
		factory := NewMongoClientFactory()
		for _, cfg := range b.configs {
			if err := factory.Register(cfg); err != nil {
				return multierr.Append(err, factory.Close(context.Background()))
			}
			logger.Info("mongo client registered",
				logging.Field{Key: "name", Value: cfg.Name},
				logging.Field{Key: "database", Value: cfg.Database})
		}

		di.RegisterValue(rt, factory)
		factory.Each(func(name string, client *mongo.Client) {
			di.RegisterValue(rt, client, di.WithName(name))
			if name == "default" {
				di.RegisterValue(rt, client)
			}
			if db, err := factory.Database(name); err == nil {
				di.RegisterValue(rt, db, di.WithName(name))
			}
		})

		rt.Lifecycle.OnStop(func(ctx context.Context) error {
			logger.Info("closing mongo clients")
			return factory.Close(ctx)
		})
		return nil
	}
}
