package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLoggerProvider 把日志转发给 zap。
type ZapLoggerProvider struct {
	base  *zap.Logger
	level zap.AtomicLevel
}

// NewZapLoggerProvider 基于已有的 *zap.Logger 创建提供者。base 为 nil 时使用 zap 的生产配置。
func NewZapLoggerProvider(base *zap.Logger) (*ZapLoggerProvider, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if base == nil {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		l, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		base = l
	}
	return &ZapLoggerProvider{base: base, level: level}, nil
}

func (p *ZapLoggerProvider) CreateLogger(category string) Logger {
	return &zapLogger{l: p.base.Named(category), level: p.level}
}

func (p *ZapLoggerProvider) SetMinimumLevel(level LogLevel) {
	p.level.SetLevel(toZapLevel(level))
}

// Sync 刷新 zap 的缓冲。
func (p *ZapLoggerProvider) Sync() error {
	return p.base.Sync()
}

type zapLogger struct {
	l     *zap.Logger
	level zap.AtomicLevel
}

func (z *zapLogger) Trace(msg string, fields ...Field) { z.Log(LogLevelTrace, msg, fields...) }
func (z *zapLogger) Debug(msg string, fields ...Field) { z.Log(LogLevelDebug, msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...Field)  { z.Log(LogLevelInfo, msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...Field)  { z.Log(LogLevelWarn, msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...Field) { z.Log(LogLevelError, msg, fields...) }
func (z *zapLogger) Fatal(msg string, fields ...Field) { z.Log(LogLevelFatal, msg, fields...) }

func (z *zapLogger) Log(level LogLevel, msg string, fields ...Field) {
	zl := toZapLevel(level)
	if !z.level.Enabled(zl) {
		return
	}
	if ce := z.l.Check(zl, msg); ce != nil {
		ce.Write(toZapFields(fields)...)
	}
}

func (z *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{l: z.l.With(toZapFields(fields)...), level: z.level}
}

func (z *zapLogger) WithCategory(category string) Logger {
	return &zapLogger{l: z.l.Named(category), level: z.level}
}

// toZapLevel zap 没有 TRACE，映射为 DEBUG。
func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LogLevelTrace, LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		if err, ok := f.Value.(error); ok {
			out[i] = zap.NamedError(f.Key, err)
			continue
		}
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}
