package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// AsyncWriter 异步日志写入器：条目进入有界队列，由后台 goroutine 格式化并写出。
// 队列满时 WriteLog 阻塞，不丢日志。
type AsyncWriter struct {
	writer     io.Writer
	formatter  Formatter
	entryCh    chan *LogEntry
	wg         sync.WaitGroup
	closeOnce  sync.Once
	mu         sync.RWMutex
	closed     bool
	errHandler func(error)
}

// NewAsyncWriter 创建新的异步写入器
func NewAsyncWriter(writer io.Writer, formatter Formatter, bufferSize int) *AsyncWriter {
	w := &AsyncWriter{
		writer:    writer,
		formatter: formatter,
		entryCh:   make(chan *LogEntry, bufferSize),
	}
	w.wg.Add(1)
	go w.process()
	return w
}

// WriteLog 写入日志条目。关闭后写入的条目被丢弃。
func (w *AsyncWriter) WriteLog(entry *LogEntry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	w.entryCh <- entry
}

// Close 关闭写入器并等待队列写完
func (w *AsyncWriter) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.entryCh)
		w.mu.Unlock()
	})
	w.wg.Wait()
	return nil
}

func (w *AsyncWriter) process() {
	defer w.wg.Done()

	for entry := range w.entryCh {
		data, err := w.formatter.Format(entry)
		if err != nil {
			w.handle(fmt.Errorf("AsyncWriter format error: %w", err))
			continue
		}
		// JsonFormatter 的输出不带换行
		if len(data) > 0 && data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		if _, err := w.writer.Write(data); err != nil {
			w.handle(fmt.Errorf("AsyncWriter write error: %w", err))
		}
	}
}

func (w *AsyncWriter) handle(err error) {
	if w.errHandler != nil {
		w.errHandler(err)
		return
	}
	fmt.Fprintln(os.Stderr, err)
}

// SetErrorHandler 设置错误处理函数，需在写入前调用
func (w *AsyncWriter) SetErrorHandler(handler func(error)) {
	w.errHandler = handler
}
