package logging

import (
	"sync"
)

// MemoryLoggerProvider 把日志保存在内存中，主要用于测试断言。
type MemoryLoggerProvider struct {
	level *levelVar

	mu      sync.Mutex
	entries []LogEntry
}

// NewMemoryLoggerProvider 创建内存日志提供者，默认记录全部级别。
func NewMemoryLoggerProvider() *MemoryLoggerProvider {
	return &MemoryLoggerProvider{level: newLevelVar(LogLevelTrace)}
}

func (p *MemoryLoggerProvider) CreateLogger(category string) Logger {
	return &entryLogger{category: category, level: p.level, write: p.write}
}

func (p *MemoryLoggerProvider) SetMinimumLevel(level LogLevel) {
	p.level.set(level)
}

func (p *MemoryLoggerProvider) write(entry *LogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, *entry)
}

// Entries 返回已记录日志的副本。
func (p *MemoryLoggerProvider) Entries() []LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LogEntry(nil), p.entries...)
}

// Filter 返回指定级别的日志。
func (p *MemoryLoggerProvider) Filter(level LogLevel) []LogEntry {
	var out []LogEntry
	for _, e := range p.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Reset 清空已记录的日志。
func (p *MemoryLoggerProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = nil
}

// Field 返回条目中 key 对应的字段值。
func (e LogEntry) Field(key string) (any, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}
