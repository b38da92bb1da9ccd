package redis

import (
	"context"
	"fmt"

	"github.com/gocrud/weavedi/config"
	"github.com/gocrud/weavedi/core"
	"github.com/gocrud/weavedi/di"
	"github.com/redis/go-redis/v9"
)

// BuilderOption 用于配置 Redis Builder
type BuilderOption func(*Builder)

// WithClient 添加 Redis 客户端配置
func WithClient(name string, opts ...func(*RedisClientOptions)) BuilderOption {
	return func(b *Builder) {
		b.AddClient(name, func(o *RedisClientOptions) {
			for _, opt := range opts {
				opt(o)
			}
		})
	}
}

// WithAddr 设置服务器地址
func WithAddr(addr string) func(*RedisClientOptions) {
	return func(o *RedisClientOptions) { o.Addr = addr }
}

// WithDB 设置数据库编号
func WithDB(db int) func(*RedisClientOptions) {
	return func(o *RedisClientOptions) { o.DB = db }
}

// FromConfig 从配置节读取客户端，节内每个键是客户端名称：
//
//	redis:
//	  default:
//	    addr: localhost:6379
//	    db: 1
//
// 需要先使用 config.Load。
func FromConfig(section string) BuilderOption {
	return func(b *Builder) { b.section = section }
}

// New 启用 Redis 能力
//
// 每个客户端以名称注册为 *redis.Client，名为 "default" 的客户端同时注册为默认实例。
func New(opts ...BuilderOption) core.Option {
	return func(rt *core.Runtime) error {
		builder := NewBuilder()
		for _, opt := range opts {
			opt(builder)
		}
		if builder.section != "" {
			root, ok := core.GetFeature[*config.Root](rt)
			if !ok {
				return fmt.Errorf("redis: FromConfig(%q) 需要先使用 config.Load", builder.section)
			}
			clients, err := config.BindSection[map[string]RedisClientOptions](root, builder.section)
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			builder.AddClients(clients)
		}

		logger := rt.Logger.WithCategory("redis")
		factory, err := builder.Build(logger)
		if err != nil {
			return err
		}
		if factory == nil {
			return nil
		}

		di.RegisterValue(rt, factory)
		factory.Each(func(name string, client *redis.Client) {
			di.RegisterValue(rt, client, di.WithName(name))
			if name == "default" {
				di.RegisterValue(rt, client)
			}
		})

		rt.Lifecycle.OnStart(factory.Ping)
		rt.Lifecycle.OnStop(func(context.Context) error {
			logger.Info("closing redis clients")
			return factory.Close()
		})
		return nil
	}
}
