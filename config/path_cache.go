package config

import (
	"strings"
	"sync"
)

// maxCachedPaths 超过后清空缓存，避免任意键名无限增长
const maxCachedPaths = 1024

// PathCache 缓存配置路径的切分结果，":" 和 "." 都是分隔符
type PathCache struct {
	mu    sync.RWMutex
	items map[string][]string
}

// Segments 返回路径片段，空片段被忽略。返回的切片由缓存共享，不得修改。
func (c *PathCache) Segments(path string) []string {
	c.mu.RLock()
	parts, ok := c.items[path]
	c.mu.RUnlock()
	if ok {
		return parts
	}

	parts = strings.FieldsFunc(path, func(r rune) bool { return r == ':' || r == '.' })

	c.mu.Lock()
	if c.items == nil || len(c.items) >= maxCachedPaths {
		c.items = make(map[string][]string)
	}
	c.items[path] = parts
	c.mu.Unlock()
	return parts
}

// Len 返回已缓存的路径数
func (c *PathCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

var paths = &PathCache{}
