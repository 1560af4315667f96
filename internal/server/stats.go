package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/any-hub/any-proxy/internal/proxy"
)

// Stats 汇总进程级计数器，所有方法并发安全。
type Stats struct {
	started  time.Time
	accepted atomic.Int64

	mu       sync.Mutex
	outcomes map[proxy.Outcome]int64
}

// NewStats 创建计数器并记录启动时间。
func NewStats() *Stats {
	return &Stats{
		started:  time.Now(),
		outcomes: make(map[proxy.Outcome]int64),
	}
}

// ConnAccepted 记录一次 accept。
func (s *Stats) ConnAccepted() {
	s.accepted.Add(1)
}

// Accepted 返回累计 accept 数。
func (s *Stats) Accepted() int64 {
	return s.accepted.Load()
}

// Record 实现 proxy.Recorder。
func (s *Stats) Record(outcome proxy.Outcome) {
	s.mu.Lock()
	s.outcomes[outcome]++
	s.mu.Unlock()
}

// Outcome 返回某类结果的累计次数。
func (s *Stats) Outcome(outcome proxy.Outcome) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes[outcome]
}

// Outcomes 返回全部结果计数的拷贝。
func (s *Stats) Outcomes() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.outcomes))
	for k, v := range s.outcomes {
		out[string(k)] = v
	}
	return out
}

// Uptime 返回自启动以来的时长。
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.started)
}
