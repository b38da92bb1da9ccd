package etcd

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gocrud/weavedi/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"
)

var validate = validator.New()

// EtcdClientOptions etcd 客户端配置选项
type EtcdClientOptions struct {
	// Name 客户端名称
	Name        string        `validate:"required"`
	// Endpoints etcd 服务器地址列表
	Endpoints   []string      `validate:"required,dive,required"`
	// DialTimeout 连接超时时间
	DialTimeout time.Duration `validate:"gt=0"`

	Username           string        // 用户名（可选）
	Password           string        // 密码（可选）
	AutoSyncInterval   time.Duration // 自动同步间隔（可选）
	MaxCallSendMsgSize int           // 最大发送消息大小（可选）
	MaxCallRecvMsgSize int           // 最大接收消息大小（可选）
}

// NewDefaultOptions 创建默认配置
func NewDefaultOptions(name string) *EtcdClientOptions {
	return &EtcdClientOptions{
		Name:        name,
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: 5 * time.Second,
	}
}

// Validate 验证配置
func (o *EtcdClientOptions) Validate() error {
	return validate.Struct(o)
}

// Config 转换为 clientv3.Config
func (o *EtcdClientOptions) Config() clientv3.Config {
	cfg := clientv3.Config{
		Endpoints:          o.Endpoints,
		DialTimeout:        o.DialTimeout,
		AutoSyncInterval:   o.AutoSyncInterval,
		MaxCallSendMsgSize: o.MaxCallSendMsgSize,
		MaxCallRecvMsgSize: o.MaxCallRecvMsgSize,
	}
	if o.Username != "" {
		cfg.Username = o.Username
		cfg.Password = o.Password
	}
	return cfg
}

// EtcdClientFactory etcd 客户端工厂
type EtcdClientFactory struct {
	clients map[string]*clientv3.Client
	mu      sync.RWMutex
	dial    func(clientv3.Config) (*clientv3.Client, error)
}

// NewEtcdClientFactory 创建客户端工厂
func NewEtcdClientFactory() *EtcdClientFactory {
	return &EtcdClientFactory{
		clients: make(map[string]*clientv3.Client),
		dial:    clientv3.New,
	}
}

// Register 注册 etcd 客户端
func (f *EtcdClientFactory) Register(opts EtcdClientOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.clients[opts.Name]; exists {
		return fmt.Errorf("etcd client '%s' already registered", opts.Name)
	}
	client, err := f.dial(opts.Config())
	if err != nil {
		return fmt.Errorf("failed to create etcd client '%s': %w", opts.Name, err)
	}
	f.clients[opts.Name] = client
	return nil
}

// Get 按名称获取客户端
func (f *EtcdClientFactory) Get(name string) (*clientv3.Client, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.clients[name]
	return c, ok
}

// Each 按名称顺序遍历所有客户端
func (f *EtcdClientFactory) Each(fn func(name string, client *clientv3.Client)) {
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

// Close 关闭所有 etcd 客户端
func (f *EtcdClientFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs error
	for name, client := range f.clients {
		if err := client.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close client '%s': %w", name, err))
		}
	}
	f.clients = make(map[string]*clientv3.Client)
	return errs
}

// Source 用已有的 etcd 客户端创建配置源，prefix 下的键映射为配置树
func Source(client config.EtcdGetter, prefix string) *config.EtcdSource {
	src := config.NewEtcdSource(config.EtcdOptions{Prefix: prefix})
	src.Client = client
	return src
}

// Put 把值写入 prefix 下的键，键中的 ":" 转换为 "/"，供配置源读取
func Put(ctx context.Context, kv clientv3.KV, prefix, key, value string) error {
	_, err := kv.Put(ctx, configKey(prefix, key), value)
	return err
}
