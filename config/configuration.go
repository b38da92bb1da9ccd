package config

import (
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration 配置读取接口
type Configuration interface {
	// Get 获取配置值，不存在时返回空字符串
	Get(key string) string
	// GetWithDefault 获取配置值，如果不存在则返回默认值
	GetWithDefault(key, defaultValue string) string
	// GetInt 获取整数配置值
	GetInt(key string) (int, error)
	// GetBool 获取布尔配置值
	GetBool(key string) (bool, error)
	// GetDuration 获取时长配置值，支持 "500ms" 形式或整数毫秒
	GetDuration(key string) (time.Duration, error)
	// Exists 报告 key 是否存在
	Exists(key string) bool
	// GetSection 获取配置节。节是对根配置的视图，重新加载后读取到的是新值
	GetSection(key string) Configuration
	// Bind 绑定配置到结构体（按 yaml 标签）
	Bind(key string, target any) error
	// GetAll 获取当前配置的副本
	GetAll() map[string]any
}

// ConfigurationSource 配置源接口
type ConfigurationSource interface {
	Load() (map[string]any, error)
	Name() string
}

// ConfigurationBuilder 配置构建器，后添加的配置源覆盖先添加的
type ConfigurationBuilder struct {
	sources []ConfigurationSource
	mu      sync.RWMutex
}

// NewConfigurationBuilder 创建配置构建器
func NewConfigurationBuilder() *ConfigurationBuilder {
	return &ConfigurationBuilder{}
}

// Add 添加配置源
func (b *ConfigurationBuilder) Add(source ConfigurationSource) *ConfigurationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources = append(b.sources, source)
	return b
}

// AddJsonFile 添加 JSON 文件配置源
func (b *ConfigurationBuilder) AddJsonFile(path string, optional ...bool) *ConfigurationBuilder {
	return b.Add(&JsonFileSource{Path: path, Optional: len(optional) > 0 && optional[0]})
}

// AddYamlFile 添加 YAML 文件配置源
func (b *ConfigurationBuilder) AddYamlFile(path string, optional ...bool) *ConfigurationBuilder {
	return b.Add(&YamlFileSource{Path: path, Optional: len(optional) > 0 && optional[0]})
}

// AddEnvironmentVariables 添加环境变量配置源
func (b *ConfigurationBuilder) AddEnvironmentVariables(prefix string) *ConfigurationBuilder {
	return b.Add(&EnvironmentVariableSource{Prefix: prefix})
}

// AddInMemory 添加内存配置源
func (b *ConfigurationBuilder) AddInMemory(data map[string]any) *ConfigurationBuilder {
	return b.Add(&InMemorySource{Data: data})
}

// AddEtcd 添加 etcd 配置源
func (b *ConfigurationBuilder) AddEtcd(opts EtcdOptions) *ConfigurationBuilder {
	return b.Add(NewEtcdSource(opts))
}

// Build 加载全部配置源并返回可重新加载的根配置
func (b *ConfigurationBuilder) Build() (*Root, error) {
	b.mu.RLock()
	sources := append([]ConfigurationSource(nil), b.sources...)
	b.mu.RUnlock()

	root := &Root{sources: sources}
	root.store = NewValueStore()
	if err := root.Reload(); err != nil {
		return nil, err
	}
	return root, nil
}

// Root 根配置。Reload 重新读取全部配置源并原子替换数据，
// 已经取得的配置节随之看到新值。
type Root struct {
	view
	sources []ConfigurationSource

	reloadMu  sync.Mutex
	mu        sync.RWMutex
	listeners []func()
}

// Reload 按顺序重新加载全部配置源。任何一个配置源失败时保留旧数据。
func (r *Root) Reload() error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	data := make(map[string]any)
	for _, source := range r.sources {
		loaded, err := source.Load()
		if err != nil {
			return fmt.Errorf("config: 加载配置源 %s 失败: %w", source.Name(), err)
		}
		mergeMaps(data, loaded)
	}
	r.store.Store(data)

	r.mu.RLock()
	listeners := slices.Clone(r.listeners)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// OnReload 注册重新加载成功后的回调
func (r *Root) OnReload(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Generation 返回成功加载的次数，首次 Build 之后为 1
func (r *Root) Generation() uint64 {
	return r.store.Generation()
}

// Sources 返回配置源名称
func (r *Root) Sources() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// view 是 ValueStore 上某个前缀的只读视图
type view struct {
	store  *ValueStore
	prefix []string
}

func (v *view) lookup(key string) any {
	var current any = v.store.Load()
	for _, part := range v.prefix {
		current = child(current, part)
	}
	for _, part := range paths.Segments(key) {
		current = child(current, part)
	}
	return current
}

func child(node any, key string) any {
	if m, ok := node.(map[string]any); ok {
		return m[key]
	}
	return nil
}

func (v *view) Get(key string) string {
	switch val := v.lookup(key).(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func (v *view) GetWithDefault(key, defaultValue string) string {
	if val := v.Get(key); val != "" {
		return val
	}
	return defaultValue
}

func (v *view) GetInt(key string) (int, error) {
	switch val := v.lookup(key).(type) {
	case nil:
		return 0, fmt.Errorf("config: 未找到 %s", key)
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case uint64:
		return int(val), nil
	case float64:
		return int(val), nil
	case string:
		return strconv.Atoi(val)
	default:
		return 0, fmt.Errorf("config: %s 的值 %v 不能转换为 int", key, val)
	}
}

func (v *view) GetBool(key string) (bool, error) {
	switch val := v.lookup(key).(type) {
	case nil:
		return false, fmt.Errorf("config: 未找到 %s", key)
	case bool:
		return val, nil
	case string:
		return strconv.ParseBool(val)
	default:
		return false, fmt.Errorf("config: %s 的值 %v 不能转换为 bool", key, val)
	}
}

func (v *view) GetDuration(key string) (time.Duration, error) {
	switch val := v.lookup(key).(type) {
	case nil:
		return 0, fmt.Errorf("config: 未找到 %s", key)
	case string:
		return time.ParseDuration(val)
	default:
		ms, err := v.GetInt(key)
		return time.Duration(ms) * time.Millisecond, err
	}
}

func (v *view) Exists(key string) bool {
	return v.lookup(key) != nil
}

func (v *view) GetSection(key string) Configuration {
	prefix := append(append([]string(nil), v.prefix...), paths.Segments(key)...)
	return &view{store: v.store, prefix: prefix}
}

// Bind 通过 yaml 往返把配置节解码到 target，target 中未出现在配置里的字段保持原值
func (v *view) Bind(key string, target any) error {
	data := v.lookup(key)
	if data == nil {
		return fmt.Errorf("config: 未找到 %s", key)
	}
	raw, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("config: 编码 %s 失败: %w", key, err)
	}
	if err := yaml.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("config: 绑定 %s 失败: %w", key, err)
	}
	return nil
}

func (v *view) GetAll() map[string]any {
	result := make(map[string]any)
	if m, ok := v.lookup("").(map[string]any); ok {
		mergeMaps(result, m)
	}
	return result
}

// BindSection 绑定指定节到新的 T。section 为空时绑定整个配置。
func BindSection[T any](cfg Configuration, section string) (T, error) {
	var t T
	err := cfg.Bind(section, &t)
	return t, err
}

// mergeMaps 深度合并 src 到 dst。src 中的 map 会被复制，dst 不与 src 共享可变状态。
func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		srcMap, isMap := v.(map[string]any)
		if !isMap {
			dst[k] = v
			continue
		}
		dstMap, ok := dst[k].(map[string]any)
		if !ok {
			dstMap = make(map[string]any, len(srcMap))
			dst[k] = dstMap
		}
		mergeMaps(dstMap, srcMap)
	}
}
