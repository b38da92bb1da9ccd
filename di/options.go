package di

import (
	"time"

	"github.com/gocrud/weavedi/logging"
	"go.opentelemetry.io/otel/trace"
)

// Option 配置服务注册。
type Option func(*registrationConfig)

type registrationConfig struct {
	scope    ScopeType
	hint     ExecutionHint
	name     string
	deps     []Key
	value    any
	hasValue bool
}

// WithScope 设置服务的生命周期范围。
func WithScope(scope ScopeType) Option {
	return func(c *registrationConfig) {
		c.scope = scope
	}
}

// WithSingleton 将范围设置为 Singleton（默认）。
func WithSingleton() Option {
	return WithScope(ScopeSingleton)
}

// WithTransient 将范围设置为 Transient。
func WithTransient() Option {
	return WithScope(ScopeTransient)
}

// WithSession 将范围设置为 Session。
func WithSession() Option {
	return WithScope(ScopeSession)
}

// WithRequest 将范围设置为 Request。
func WithRequest() Option {
	return WithScope(ScopeRequest)
}

// WithName 设置服务的名称，用于命名注入。
// 只对通过泛型辅助函数或 Provide 注册的服务生效，Registry.Register 直接使用传入的 Key。
func WithName(name string) Option {
	return func(c *registrationConfig) {
		c.name = name
	}
}

// WithHint 设置执行上下文提示。
func WithHint(hint ExecutionHint) Option {
	return func(c *registrationConfig) {
		c.hint = hint
	}
}

// WithDependsOn 声明静态依赖，供 Validate 和 DependencyGraph 使用。
func WithDependsOn(keys ...Key) Option {
	return func(c *registrationConfig) {
		c.deps = append(c.deps, keys...)
	}
}

// WithValue 将预先创建好的实例注册为单例。
func WithValue(v any) Option {
	return func(c *registrationConfig) {
		c.value = v
		c.hasValue = true
		c.scope = ScopeSingleton
	}
}

func applyOptions(opts []Option) registrationConfig {
	cfg := registrationConfig{scope: ScopeSingleton}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// SingletonPolicy 决定并发首次构造单例时的行为。
type SingletonPolicy string

const (
	// PolicyRaceTolerant 不加锁：并发的首次解析可能各自构造实例，
	// 先安装者胜出，其余调用者拿到胜出的实例，多余实例被丢弃。
	PolicyRaceTolerant SingletonPolicy = "race-tolerant"
	// PolicyExactlyOnce 通过 singleflight 合并并发的首次构造。
	PolicyExactlyOnce SingletonPolicy = "exactly-once"
)

// Settings 注册表的运行参数。
type Settings struct {
	// SingletonPolicy 默认 PolicyRaceTolerant。
	SingletonPolicy SingletonPolicy
	// FrequentThreshold 解析次数超过该值的类型被视为 "optimized"。
	FrequentThreshold int
	// OptimizeDebounce 大于 0 时，后台按该窗口合并重算 optimized 集合；
	// 为 0 时按需计算。
	OptimizeDebounce time.Duration
	// CycleHistory 保留最近检测到的循环依赖条数。
	CycleHistory int
	// DisableStats 关闭使用统计。
	DisableStats bool
	// Development 为 true 时 Require 在依赖缺失时直接 panic。
	Development bool
}

// DefaultSettings 返回默认参数。
func DefaultSettings() Settings {
	return Settings{
		SingletonPolicy:   PolicyRaceTolerant,
		FrequentThreshold: 10,
		CycleHistory:      32,
	}
}

// RegistryOption 配置 Registry。
type RegistryOption func(*Registry)

// WithSettings 设置运行参数。零值字段使用默认值。
func WithSettings(s Settings) RegistryOption {
	return func(r *Registry) {
		def := DefaultSettings()
		if s.SingletonPolicy == "" {
			s.SingletonPolicy = def.SingletonPolicy
		}
		if s.FrequentThreshold <= 0 {
			s.FrequentThreshold = def.FrequentThreshold
		}
		if s.CycleHistory <= 0 {
			s.CycleHistory = def.CycleHistory
		}
		r.settings = s
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger logging.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger.WithCategory("di")
		}
	}
}

// WithTracerProvider 为工厂调用启用 OpenTelemetry 追踪。
func WithTracerProvider(tp trace.TracerProvider) RegistryOption {
	return func(r *Registry) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}
