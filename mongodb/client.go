package mongodb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/multierr"
)

var validate = validator.New()

// MongoOptions MongoDB 客户端配置
type MongoOptions struct {
	Name string `validate:"required"`
	URI  string `validate:"required,startswith=mongodb"`

	// Database 默认数据库，为空时不注册 *mongo.Database
	Database string

	MaxPoolSize    uint64        `validate:"gte=0"`
	ConnectTimeout time.Duration `validate:"gte=0"`
}

// NewDefaultOptions 创建默认配置
func NewDefaultOptions(name, uri string) *MongoOptions {
	return &MongoOptions{
		Name:           name,
		URI:            uri,
		ConnectTimeout: 10 * time.Second,
	}
}

// Validate 验证配置
func (o *MongoOptions) Validate() error {
	return validate.Struct(o)
}

// MongoClientFactory 按名称管理 *mongo.Client
type MongoClientFactory struct {
	mu      sync.RWMutex
	clients map[string]*mongo.Client
	options map[string]MongoOptions
}

// NewMongoClientFactory 创建客户端工厂
func NewMongoClientFactory() *MongoClientFactory {
	return &MongoClientFactory{
		clients: make(map[string]*mongo.Client),
		options: make(map[string]MongoOptions),
	}
}

// Register 创建客户端。驱动在后台建立连接，这里不等待服务器响应。
func (f *MongoClientFactory) Register(opts MongoOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.clients[opts.Name]; exists {
		return fmt.Errorf("mongo client '%s' already registered", opts.Name)
	}

	co := options.Client().ApplyURI(opts.URI)
	if opts.MaxPoolSize > 0 {
		co.SetMaxPoolSize(opts.MaxPoolSize)
	}
	if opts.ConnectTimeout > 0 {
		co.SetConnectTimeout(opts.ConnectTimeout)
	}
	client, err := mongo.Connect(co)
	if err != nil {
		return fmt.Errorf("connect mongo '%s': %w", opts.Name, err)
	}
	f.clients[opts.Name] = client
	f.options[opts.Name] = opts
	return nil
}

// Get 按名称获取客户端
func (f *MongoClientFactory) Get(name string) (*mongo.Client, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.clients[name]
	return c, ok
}

// Database 返回客户端配置的默认数据库
func (f *MongoClientFactory) Database(name string) (*mongo.Database, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.clients[name]
	if !ok {
		return nil, fmt.Errorf("mongo client '%s' not registered", name)
	}
	db := f.options[name].Database
	if db == "" {
		return nil, fmt.Errorf("mongo client '%s' has no default database", name)
	}
	return c.Database(db), nil
}

// Each 按名称顺序遍历
func (f *MongoClientFactory) Each(fn func(name string, client *mongo.Client)) {
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

// Close 断开所有客户端
func (f *MongoClientFactory) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs error
	for name, client := range f.clients {
		if err := client.Disconnect(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("disconnect mongo '%s': %w", name, err))
		}
	}
	f.clients = make(map[string]*mongo.Client)
	return errs
}
