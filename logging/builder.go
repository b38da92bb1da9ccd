package logging

import (
	"os"

	"go.uber.org/zap"
)

// LoggingBuilder 收集日志提供者并构建 LoggerFactory，只在启动阶段单线程使用
type LoggingBuilder struct {
	providers    []LoggerProvider
	minimumLevel LogLevel
	err          error
}

// NewLoggingBuilder 创建日志构建器，默认级别 Info
func NewLoggingBuilder() *LoggingBuilder {
	return &LoggingBuilder{minimumLevel: LogLevelInfo}
}

// SetMinimumLevel 设置最小日志级别
func (b *LoggingBuilder) SetMinimumLevel(level LogLevel) *LoggingBuilder {
	b.minimumLevel = level
	return b
}

// SetMinimumLevelName 按名称设置级别，名称无效时保留原级别，错误由 Err 返回
func (b *LoggingBuilder) SetMinimumLevelName(name string) *LoggingBuilder {
	level, err := ParseLevel(name)
	if err != nil {
		b.err = err
		return b
	}
	return b.SetMinimumLevel(level)
}

// Err 返回构建过程中记录的第一个错误
func (b *LoggingBuilder) Err() error {
	return b.err
}

// AddProvider 添加日志提供者
func (b *LoggingBuilder) AddProvider(provider LoggerProvider) *LoggingBuilder {
	b.providers = append(b.providers, provider)
	return b
}

// AddConsole 添加控制台日志。未传选项时带时间戳和颜色输出到标准输出；
// 传入的选项中 Output 和 TimestampFormat 为空时使用默认值。
func (b *LoggingBuilder) AddConsole(options ...ConsoleLoggerOptions) *LoggingBuilder {
	opts := ConsoleLoggerOptions{IncludeTimestamp: true, ColorOutput: true}
	if len(options) > 0 {
		opts = options[0]
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.TimestampFormat == "" {
		opts.TimestampFormat = defaultTimestampFormat
	}
	return b.AddProvider(NewConsoleLoggerProvider(opts))
}

// AddFile 添加文件日志
func (b *LoggingBuilder) AddFile(path string, options ...FileLoggerOptions) *LoggingBuilder {
	var opts FileLoggerOptions
	if len(options) > 0 {
		opts = options[0]
	}
	opts.Path = path
	return b.AddProvider(NewFileLoggerProvider(opts))
}

// AddZap 添加 zap 日志。base 为 nil 时使用 zap 的生产配置，
// 生产配置不可用时改为输出到标准错误的控制台日志。
func (b *LoggingBuilder) AddZap(base *zap.Logger) *LoggingBuilder {
	p, err := NewZapLoggerProvider(base)
	if err != nil {
		return b.AddConsole(ConsoleLoggerOptions{Output: os.Stderr})
	}
	return b.AddProvider(p)
}

// Build 构建日志工厂，最小级别统一下发给全部提供者
func (b *LoggingBuilder) Build() LoggerFactory {
	factory := &loggerFactory{minimumLevel: b.minimumLevel}
	for _, provider := range b.providers {
		factory.AddProvider(provider)
	}
	return factory
}
