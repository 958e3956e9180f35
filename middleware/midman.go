package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// MiddlewareManager holds named pre-filters that can be swapped while the
// engine is serving, e.g. the origin filter after the allow list changed.
// Filters run in insertion order; the chain stops at the first abort.
type MiddlewareManager struct {
	mu    sync.RWMutex
	names []string
	mids  map[string]gin.HandlerFunc
}

func NewManager() *MiddlewareManager {
	return &MiddlewareManager{mids: make(map[string]gin.HandlerFunc)}
}

// Add 注册或替换同名过滤器，替换时保持原有顺序
func (m *MiddlewareManager) Add(name string, h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mids[name]; !ok {
		m.names = append(m.names, name)
	}
	m.mids[name] = h
}

// Remove 删除过滤器，不存在时返回 false
func (m *MiddlewareManager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mids[name]; !ok {
		return false
	}
	delete(m.mids, name)
	for i, n := range m.names {
		if n == name {
			m.names = append(m.names[:i], m.names[i+1:]...)
			break
		}
	}
	return true
}

func (m *MiddlewareManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.names...)
}

// Use returns the single handler to mount on the engine.
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := make([]gin.HandlerFunc, 0, len(m.names)) // snapshot
		for _, n := range m.names {
			handlers = append(handlers, m.mids[n])
		}
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
