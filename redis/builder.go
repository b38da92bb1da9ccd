package redis

import (
	"fmt"
	"sort"

	"github.com/gocrud/weavedi/logging"
	"go.uber.org/multierr"
)

// Builder Redis 客户端配置构建器
type Builder struct {
	configs []RedisClientOptions
	names   map[string]bool
	errs    error

	// section 不为空时从该配置节读取客户端，见 FromConfig
	section string
}

// NewBuilder 创建 Redis 构建器
func NewBuilder() *Builder {
	return &Builder{names: make(map[string]bool)}
}

// AddClient 添加一个 Redis 客户端配置
func (b *Builder) AddClient(name string, configure func(*RedisClientOptions)) *Builder {
	if b.names[name] {
		b.errs = multierr.Append(b.errs, fmt.Errorf("redis client '%s' already configured", name))
		return b
	}
	opts := NewDefaultOptions(name)
	if configure != nil {
		configure(opts)
	}
	if err := opts.Validate(); err != nil {
		b.errs = multierr.Append(b.errs, fmt.Errorf("invalid redis configuration for '%s': %w", name, err))
		return b
	}
	b.names[name] = true
	b.configs = append(b.configs, *opts)
	return b
}

// AddClients 按名称顺序添加一组配置，未填写的字段使用默认值
func (b *Builder) AddClients(clients map[string]RedisClientOptions) *Builder {
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cfg := clients[name]
		b.AddClient(name, func(o *RedisClientOptions) {
			if cfg.Addr == "" {
				cfg.Addr = o.Addr
			}
			if cfg.DialTimeout == 0 {
				cfg.DialTimeout = o.DialTimeout
			}
			cfg.Name = name
			*o = cfg
		})
	}
	return b
}

// Build 构建 Redis 客户端工厂，没有任何配置时返回 nil
func (b *Builder) Build(logger logging.Logger) (*RedisClientFactory, error) {
	if b.errs != nil {
		return nil, b.errs
	}
	if len(b.configs) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	factory := NewRedisClientFactory()
	for _, opts := range b.configs {
		if err := factory.Register(opts); err != nil {
			return nil, err
		}
		logger.Info("redis client registered",
			logging.Field{Key: "name", Value: opts.Name},
			logging.Field{Key: "addr", Value: opts.Addr},
			logging.Field{Key: "db", Value: opts.DB})
	}
	return factory, nil
}
