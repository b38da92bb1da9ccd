package logging

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Formatter 把日志条目编码为字节
type Formatter interface {
	Format(entry *LogEntry) ([]byte, error)
}

// FormatterFunc 函数形式的 Formatter
type FormatterFunc func(entry *LogEntry) ([]byte, error)

func (f FormatterFunc) Format(entry *LogEntry) ([]byte, error) { return f(entry) }

// LogEntry 日志条目
type LogEntry struct {
	Time     time.Time
	Level    LogLevel
	Category string
	Message  string
	Fields   []Field
}

const defaultTimestampFormat = "2006-01-02 15:04:05"

var buffers = sync.Pool{New: func() any { return new(bytes.Buffer) }}

func getBuffer() *bytes.Buffer { return buffers.Get().(*bytes.Buffer) }

func putBuffer(b *bytes.Buffer) {
	// 过大的缓冲区不回收
	if b.Cap() > 64<<10 {
		return
	}
	b.Reset()
	buffers.Put(b)
}

// TextFormatter 文本格式化器，输出形如
//
//	2006-01-02 15:04:05 INFO [di] service registered {key=*app.Repo, slot=3}
//
// 含空白或引号的字符串值会被加上引号。
type TextFormatter struct {
	IncludeTimestamp bool
	TimestampFormat  string
	ColorOutput      bool
}

// NewTextFormatter 创建带时间戳的文本格式化器
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{IncludeTimestamp: true, TimestampFormat: defaultTimestampFormat}
}

func (f *TextFormatter) Format(entry *LogEntry) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	if f.IncludeTimestamp {
		layout := f.TimestampFormat
		if layout == "" {
			layout = defaultTimestampFormat
		}
		buf.WriteString(entry.Time.Format(layout))
		buf.WriteByte(' ')
	}

	level := entry.Level.String()
	if f.ColorOutput {
		level = colorize(entry.Level, level)
	}
	buf.WriteString(level)

	if entry.Category != "" {
		fmt.Fprintf(buf, " [%s]", entry.Category)
	}
	buf.WriteByte(' ')
	buf.WriteString(entry.Message)

	for i, field := range entry.Fields {
		if i == 0 {
			buf.WriteString(" {")
		} else {
			buf.WriteString(", ")
		}
		buf.WriteString(field.Key)
		buf.WriteByte('=')
		writeValue(buf, field.Value)
	}
	if len(entry.Fields) > 0 {
		buf.WriteByte('}')
	}
	buf.WriteByte('\n')

	return bytes.Clone(buf.Bytes()), nil
}

func writeValue(buf *bytes.Buffer, v any) {
	var s string
	switch val := v.(type) {
	case nil:
		buf.WriteString("<nil>")
		return
	case string:
		s = val
	case error:
		s = val.Error()
	case fmt.Stringer:
		s = val.String()
	default:
		fmt.Fprintf(buf, "%v", val)
		return
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"{},=") {
		buf.WriteString(strconv.Quote(s))
		return
	}
	buf.WriteString(s)
}
