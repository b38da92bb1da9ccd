package config

import (
	"fmt"

	"github.com/gocrud/weavedi/core"
	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/logging"
)

// LoadOptions 配置加载选项
type LoadOptions struct {
	// Optional 为 true 时配置文件不存在不视为错误
	Optional bool
	// HotReload 启用文件监听
	HotReload bool
	// EnvPrefix 环境变量前缀，为空时不读取环境变量
	EnvPrefix string
	// Etcd 不为空时在文件和环境变量之后叠加 etcd 配置源
	Etcd *EtcdOptions
	// Sources 额外的配置源，最后叠加
	Sources []ConfigurationSource
}

// LoadOption 配置加载选项函数
type LoadOption func(*LoadOptions)

// WithHotReload 启用热重载
func WithHotReload() LoadOption {
	return func(o *LoadOptions) {
		o.HotReload = true
	}
}

// WithOptional 允许配置文件不存在
func WithOptional() LoadOption {
	return func(o *LoadOptions) {
		o.Optional = true
	}
}

// WithEnvPrefix 设置环境变量前缀
func WithEnvPrefix(prefix string) LoadOption {
	return func(o *LoadOptions) {
		o.EnvPrefix = prefix
	}
}

// WithEtcd 叠加 etcd 配置源
func WithEtcd(opts EtcdOptions) LoadOption {
	return func(o *LoadOptions) {
		o.Etcd = &opts
	}
}

// WithSource 叠加自定义配置源
func WithSource(source ConfigurationSource) LoadOption {
	return func(o *LoadOptions) {
		o.Sources = append(o.Sources, source)
	}
}

// Load 加载配置文件（YAML，兼容 JSON）并接入运行时
//
// 读取 weavedi 节得到注册表设置并重建注册表，因此应在注册服务的 Option 之前使用。
// Configuration、*Root 和 *Monitor[Settings] 被注册为单例。
// 重新加载后 frequent_threshold 和 log_level 立即生效，其余设置需要重启。
func Load(path string, opts ...LoadOption) core.Option {
	return func(rt *core.Runtime) error {
		options := &LoadOptions{EnvPrefix: "WEAVEDI_"}
		for _, opt := range opts {
			opt(options)
		}

		builder := NewConfigurationBuilder().AddYamlFile(path, options.Optional)
		if options.EnvPrefix != "" {
			builder.AddEnvironmentVariables(options.EnvPrefix)
		}
		if options.Etcd != nil {
			builder.AddEtcd(*options.Etcd)
		}
		for _, source := range options.Sources {
			builder.Add(source)
		}

		root, err := builder.Build()
		if err != nil {
			return err
		}
		settings, err := NewMonitor(root, SectionName, DefaultSettings(), Settings.Validate)
		if err != nil {
			return err
		}

		s := settings.Get()
		if err := rt.Reconfigure(di.WithSettings(s.ToDI())); err != nil {
			return err
		}
		if rt.LoggerFactory != nil {
			rt.LoggerFactory.SetMinimumLevel(s.Level())
		}

		di.RegisterValue[Configuration](rt, root)
		di.RegisterValue(rt, root)
		di.RegisterValue(rt, settings)
		rt.Features.Set(root)

		settings.OnChange(func(old, cur Settings) {
			if old.FrequentThreshold != cur.FrequentThreshold {
				rt.Registry.SetFrequentThreshold(cur.FrequentThreshold)
			}
			if old.LogLevel != cur.LogLevel && rt.LoggerFactory != nil {
				rt.LoggerFactory.SetMinimumLevel(cur.Level())
			}
			rt.Logger.Info("settings reloaded",
				logging.Field{Key: "generation", Value: root.Generation()},
				logging.Field{Key: "frequent_threshold", Value: cur.FrequentThreshold},
				logging.Field{Key: "log_level", Value: cur.LogLevel})
		})

		if options.HotReload {
			w, err := NewWatcher(root, path, rt.Logger)
			if err != nil {
				return err
			}
			rt.Hosted.Add(w)
		}

		rt.Logger.Debug("configuration loaded",
			logging.Field{Key: "sources", Value: root.Sources()})
		return nil
	}
}

// Bind 把配置节绑定到 T 并注册为单例
func Bind[T any](rt *core.Runtime, section string) error {
	root, ok := core.GetFeature[*Root](rt)
	if !ok {
		return fmt.Errorf("config: Bind[%v] 需要先使用 config.Load", di.TypeOf[T]())
	}
	v, err := BindSection[T](root, section)
	if err != nil {
		return fmt.Errorf("config: 绑定配置节 '%s' 失败: %w", section, err)
	}
	di.RegisterValue(rt, v)
	return nil
}
