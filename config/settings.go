package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/logging"
)

// SectionName 注册表设置所在的配置节
const SectionName = "weavedi"

// Settings 注册表和运行时的可配置参数
//
//	weavedi:
//	  singleton_policy: race-tolerant
//	  frequent_threshold: 10
//	  optimize_debounce_ms: 200
//	  cycle_history: 32
//	  log_level: info
type Settings struct {
	SingletonPolicy    string `yaml:"singleton_policy" validate:"omitempty,oneof=race-tolerant exactly-once"`
	FrequentThreshold  int    `yaml:"frequent_threshold" validate:"gte=1"`
	OptimizeDebounceMs int    `yaml:"optimize_debounce_ms" validate:"gte=0,lte=60000"`
	CycleHistory       int    `yaml:"cycle_history" validate:"gte=1,lte=4096"`
	DisableStats       bool   `yaml:"disable_stats"`
	Development        bool   `yaml:"development"`
	LogLevel           string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn warning error fatal"`
}

var validate = validator.New()

// DefaultSettings 返回与 di.DefaultSettings 一致的默认值
func DefaultSettings() Settings {
	d := di.DefaultSettings()
	return Settings{
		SingletonPolicy:   string(d.SingletonPolicy),
		FrequentThreshold: d.FrequentThreshold,
		CycleHistory:      d.CycleHistory,
		LogLevel:          "info",
	}
}

// Validate 按结构体标签校验
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("config: %s 配置无效: %w", SectionName, err)
	}
	return nil
}

// ToDI 转换为注册表设置
func (s Settings) ToDI() di.Settings {
	return di.Settings{
		SingletonPolicy:   di.SingletonPolicy(s.SingletonPolicy),
		FrequentThreshold: s.FrequentThreshold,
		OptimizeDebounce:  time.Duration(s.OptimizeDebounceMs) * time.Millisecond,
		CycleHistory:      s.CycleHistory,
		DisableStats:      s.DisableStats,
		Development:       s.Development,
	}
}

// Level 返回日志级别，无法解析时返回 Info
func (s Settings) Level() logging.LogLevel {
	if s.LogLevel == "" {
		return logging.LogLevelInfo
	}
	level, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		return logging.LogLevelInfo
	}
	return level
}

// LoadSettings 从默认值开始绑定 weavedi 节并校验。配置中没有该节时返回默认值。
func LoadSettings(cfg Configuration) (Settings, error) {
	s := DefaultSettings()
	if cfg.Exists(SectionName) {
		if err := cfg.Bind(SectionName, &s); err != nil {
			return s, err
		}
	}
	return s, s.Validate()
}
