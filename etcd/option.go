package etcd

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocrud/weavedi/core"
	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/logging"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"
)

// BuilderOption 用于配置 Etcd
type BuilderOption func(*builder)

type builder struct {
	configs []EtcdClientOptions
	errs    error
}

// WithClient 添加 Etcd 客户端配置
func WithClient(name string, opts ...func(*EtcdClientOptions)) BuilderOption {
	return func(b *builder) {
		o := NewDefaultOptions(name)
		for _, opt := range opts {
			opt(o)
		}
		if err := o.Validate(); err != nil {
			b.errs = multierr.Append(b.errs, fmt.Errorf("invalid etcd configuration for '%s': %w", name, err))
			return
		}
		b.configs = append(b.configs, *o)
	}
}

// WithEndpoints 设置服务器地址
func WithEndpoints(endpoints ...string) func(*EtcdClientOptions) {
	return func(o *EtcdClientOptions) { o.Endpoints = endpoints }
}

// New 启用 Etcd 能力
//
// 客户端以名称注册为 *clientv3.Client，"default" 同时注册为默认实例。
func New(opts ...BuilderOption) core.Option {
	return newOption(NewEtcdClientFactory(), opts)
}

func newOption(factory *EtcdClientFactory, opts []BuilderOption) core.Option {
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

		logger := rt.Logger.WithCategory("etcd")
		for _, cfg := range b.configs {
			if err := factory.Register(cfg); err != nil {
				return multierr.Append(err, factory.Close())
			}
			logger.Info("etcd client registered",
				logging.Field{Key: "name", Value: cfg.Name},
				logging.Field{Key: "endpoints", Value: cfg.Endpoints})
		}

		di.RegisterValue(rt, factory)
		factory.Each(func(name string, client *clientv3.Client) {
			di.RegisterValue(rt, client, di.WithName(name))
			if name == "default" {
				di.RegisterValue(rt, client)
			}
		})

		rt.Lifecycle.OnStop(func(context.Context) error {
			logger.Info("closing etcd clients")
			return factory.Close()
		})
		return nil
	}
}

func configKey(prefix, key string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix + "/" + strings.ReplaceAll(strings.Trim(key, ":"), ":", "/")
}
