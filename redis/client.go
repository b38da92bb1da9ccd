package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

var validate = validator.New()

// RedisClientOptions Redis 客户端配置
type RedisClientOptions struct {
	Name         string        `yaml:"name" validate:"required"`
	Addr         string        `yaml:"addr" validate:"required,hostname_port"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0,lte=15"`
	PoolSize     int           `yaml:"pool_size" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dial_timeout" validate:"gte=0"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// PingOnStart 启动时检查连接
	PingOnStart bool `yaml:"ping_on_start"`
}

// NewDefaultOptions 创建默认配置
func NewDefaultOptions(name string) *RedisClientOptions {
	return &RedisClientOptions{
		Name:        name,
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
	}
}

// Validate 验证配置
func (o *RedisClientOptions) Validate() error {
	return validate.Struct(o)
}

func (o *RedisClientOptions) toRedis() *redis.Options {
	return &redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     o.PoolSize,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
	}
}

// RedisClientFactory 按名称管理 Redis 客户端
type RedisClientFactory struct {
	mu      sync.RWMutex
	clients map[string]*redis.Client
	options map[string]RedisClientOptions
}

// NewRedisClientFactory 创建客户端工厂
func NewRedisClientFactory() *RedisClientFactory {
	return &RedisClientFactory{
		clients: make(map[string]*redis.Client),
		options: make(map[string]RedisClientOptions),
	}
}

// Register 创建并保存客户端。go-redis 按需建立连接，这里不会访问网络。
func (f *RedisClientFactory) Register(opts RedisClientOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.clients[opts.Name]; exists {
		return fmt.Errorf("redis client '%s' already registered", opts.Name)
	}
	f.clients[opts.Name] = redis.NewClient(opts.toRedis())
	f.options[opts.Name] = opts
	return nil
}

// Get 按名称获取客户端
func (f *RedisClientFactory) Get(name string) (*redis.Client, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.clients[name]
	return c, ok
}

// Each 按名称顺序遍历所有客户端
func (f *RedisClientFactory) Each(fn func(name string, client *redis.Client)) {
	f.mu.RLock()
	names := make([]string, 0, len(f.clients))
	for name := range f.clients {
		names = append(names, name)
	}
	f.mu.RUnlock()
	sort.Strings(names)
	for _, name := range names {
		if c, ok := f.Get(name); ok {
			fn(name, c)
		}
	}
}

// Ping 检查启用了 PingOnStart 的客户端
func (f *RedisClientFactory) Ping(ctx context.Context) error {
	var errs error
	f.Each(func(name string, client *redis.Client) {
		f.mu.RLock()
		ping := f.options[name].PingOnStart
		f.mu.RUnlock()
		if !ping {
			return
		}
		if err := client.Ping(ctx).Err(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("redis client '%s': %w", name, err))
		}
	})
	return errs
}

// Close 关闭所有客户端
func (f *RedisClientFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs error
	for name, client := range f.clients {
		if err := client.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close redis client '%s': %w", name, err))
		}
	}
	f.clients = make(map[string]*redis.Client)
	return errs
}
