package cache

import (
	"sync"
	"time"
)

// MemoryMirror 是磁盘缓存的线程安全内存镜像，读取时按 TTL 判断是否有效。
type MemoryMirror struct {
	entries map[string]*Entry
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryMirror 创建指定 TTL 的内存镜像。
func NewMemoryMirror(ttl time.Duration, now func() time.Time) *MemoryMirror {
	if now == nil {
		now = time.Now
	}
	return &MemoryMirror{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     now,
	}
}

// Get 返回未过期的镜像条目；过期条目仅从镜像中移除，磁盘文件保持不动。
func (m *MemoryMirror) Get(key Key) (*Entry, bool) {
	if m == nil {
		return nil, false
	}

	cacheKey := key.String()

	m.mu.RLock()
	entry, ok := m.entries[cacheKey]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if !entry.Fresh(m.now(), m.ttl) {
		m.mu.Lock()
		if current, still := m.entries[cacheKey]; still && current == entry {
			delete(m.entries, cacheKey)
		}
		m.mu.Unlock()

		return nil, false
	}

	return entry, true
}

// Set 覆盖写入一个条目。
func (m *MemoryMirror) Set(entry *Entry) {
	if m == nil || entry == nil {
		return
	}

	m.mu.Lock()
	m.entries[entry.Key.String()] = entry
	m.mu.Unlock()
}

// Len 返回镜像中的条目数量（含尚未被访问到的过期条目）。
func (m *MemoryMirror) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
