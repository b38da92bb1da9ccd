package logging

import (
	"fmt"
	"os"
	"sync"
)

// FileLoggerOptions 文件日志选项
type FileLoggerOptions struct {
	Path string
	// BufferSize 异步写入队列长度，默认 1024
	BufferSize int
	// Json 为 true 时每行写出一个 JSON 对象
	Json bool
}

// FileLoggerProvider 文件日志提供者。
// 日志经 AsyncWriter 在后台写入，Close 时刷新队列并关闭文件。
type FileLoggerProvider struct {
	options FileLoggerOptions
	level   *levelVar

	mu     sync.Mutex
	file   *os.File
	writer *AsyncWriter
	err    error
}

func NewFileLoggerProvider(options FileLoggerOptions) *FileLoggerProvider {
	if options.BufferSize <= 0 {
		options.BufferSize = 1024
	}
	return &FileLoggerProvider{
		options: options,
		level:   newLevelVar(LogLevelInfo),
	}
}

func (p *FileLoggerProvider) CreateLogger(category string) Logger {
	w, err := p.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		return NewConsoleLoggerProvider(ConsoleLoggerOptions{Output: os.Stderr}).CreateLogger(category)
	}
	return &entryLogger{category: category, level: p.level, write: w.WriteLog}
}

func (p *FileLoggerProvider) SetMinimumLevel(level LogLevel) {
	p.level.set(level)
}

// open 延迟打开文件，只打开一次。
func (p *FileLoggerProvider) open() (*AsyncWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer != nil || p.err != nil {
		return p.writer, p.err
	}

	file, err := os.OpenFile(p.options.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		p.err = err
		return nil, err
	}

	var formatter Formatter = NewTextFormatter()
	if p.options.Json {
		formatter = NewJsonFormatter()
	}
	p.file = file
	p.writer = NewAsyncWriter(file, formatter, p.options.BufferSize)
	return p.writer, nil
}

// Close 刷新尚未写出的日志并关闭文件。
func (p *FileLoggerProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil {
		return nil
	}
	_ = p.writer.Close()
	err := p.file.Close()
	p.writer, p.file = nil, nil
	return err
}
