package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gocrud/weavedi/logging"
)

// Watcher 监听配置文件变化并重新加载根配置
//
// 监听的是文件所在目录，这样编辑器以重命名方式保存文件时也能收到事件。
// 连续的事件在 Debounce 窗口内合并为一次重新加载。
type Watcher struct {
	root     *Root
	path     string
	logger   logging.Logger
	Debounce time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	reloads int
}

// NewWatcher 创建配置文件监听器
func NewWatcher(root *Root, path string, logger logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: 解析路径 %s 失败: %w", path, err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Watcher{
		root:     root,
		path:     abs,
		logger:   logger.WithCategory("config"),
		Debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}, nil
}

func (w *Watcher) Name() string { return "config-watcher" }

// Start 开始监听，阻塞直到 ctx 取消或 Stop 被调用
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: 创建文件监听器失败: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config: 监听 %s 失败: %w", w.path, err)
	}
	w.logger.Info("configuration hot reload enabled", logging.Field{Key: "path", Value: w.path})

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("configuration file changed",
				logging.Field{Key: "path", Value: event.Name},
				logging.Field{Key: "op", Value: event.Op.String()})
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.Debounce, w.reload)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", logging.Field{Key: "error", Value: err})

		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop 停止监听
func (w *Watcher) Stop(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	return nil
}

// Reloads 返回成功重新加载的次数
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) reload() {
	if err := w.root.Reload(); err != nil {
		w.logger.Error("configuration reload failed, keeping previous values",
			logging.Field{Key: "error", Value: err})
		return
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	w.logger.Info("configuration reloaded", logging.Field{Key: "path", Value: w.path})
}
