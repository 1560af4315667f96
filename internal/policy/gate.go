// Package policy 在回源之前执行访问控制：域名白名单与每日时间窗口。
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/any-hub/any-proxy/internal/config"
)

// Reason 标识拒绝原因，同时作为日志字段输出。
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonWhitelist  Reason = "whitelist"
	ReasonTimeWindow Reason = "time_window"
)

// Decision 是一次策略检查的结果。
type Decision struct {
	Allowed bool
	Reason  Reason
}

// ErrInvalidWindow 表示时间窗口格式错误，此时窗口等价于全部拒绝。
var ErrInvalidWindow = errors.New("invalid time window")

// Window 是一天内的闭区间 [Start, End]，以自零点起的偏移表示。
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Contains 判断某个本地时刻是否落在窗口内（含两端）。
// 起点晚于终点的跨零点窗口永远不匹配。
func (w Window) Contains(now time.Time) bool {
	offset := time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second +
		time.Duration(now.Nanosecond())
	return w.Start <= offset && offset <= w.End
}

// ParseWindow 解析 "HH:MM-HH:MM"。
func ParseWindow(raw string) (Window, error) {
	startRaw, endRaw, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return Window{}, fmt.Errorf("%w: missing '-' in %q", ErrInvalidWindow, raw)
	}
	start, err := parseClock(startRaw)
	if err != nil {
		return Window{}, err
	}
	end, err := parseClock(endRaw)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

func parseClock(raw string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidWindow, raw, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Gate 组合白名单与时间窗口检查，构造后只读，可被所有 worker 共享。
type Gate struct {
	whitelistEnabled bool
	whitelist        []string

	windowEnabled bool
	window        Window
	windowErr     error

	now func() time.Time
}

// Option 调整 Gate 的可选行为。
type Option func(*Gate)

// WithClock 注入时钟，便于测试时间窗口。
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate 根据配置构造策略检查器。窗口解析失败不会报错，而是让所有请求被拒绝；
// 可通过 WindowErr 获取原因用于启动日志。
func NewGate(cfg *config.Config, opts ...Option) *Gate {
	g := &Gate{
		whitelistEnabled: cfg.EnableWhitelist,
		whitelist:        append([]string(nil), cfg.Whitelist...),
		windowEnabled:    cfg.EnableTimeRestriction,
		now:              time.Now,
	}
	if g.windowEnabled {
		g.window, g.windowErr = ParseWindow(cfg.TimeRestriction)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WindowErr 返回时间窗口的解析错误（未启用或解析成功时为 nil）。
func (g *Gate) WindowErr() error {
	return g.windowErr
}

// Check 依次执行白名单与时间窗口检查，任一失败即拒绝。nil Gate 放行所有请求。
func (g *Gate) Check(host string) Decision {
	if g == nil {
		return Decision{Allowed: true}
	}
	if g.whitelistEnabled && !g.IsWhitelisted(host) {
		return Decision{Allowed: false, Reason: ReasonWhitelist}
	}
	if g.windowEnabled && !g.InWindow() {
		return Decision{Allowed: false, Reason: ReasonTimeWindow}
	}
	return Decision{Allowed: true}
}

// IsWhitelisted 判断 host 是否为某个白名单条目的子串。
// 这是沿用的包含语义，并非精确或后缀匹配。
func (g *Gate) IsWhitelisted(host string) bool {
	for _, entry := range g.whitelist {
		if strings.Contains(entry, host) {
			return true
		}
	}
	return false
}

// InWindow 判断当前本地时间是否在允许窗口内，窗口非法时始终为 false。
func (g *Gate) InWindow() bool {
	if g.windowErr != nil {
		return false
	}
	return g.window.Contains(g.now())
}

// Snapshot 输出当前策略配置，供诊断接口展示。
func (g *Gate) Snapshot() map[string]interface{} {
	snapshot := map[string]interface{}{
		"whitelist_enabled":   g.whitelistEnabled,
		"whitelist":           append([]string(nil), g.whitelist...),
		"time_window_enabled": g.windowEnabled,
	}
	if g.windowEnabled {
		if g.windowErr != nil {
			snapshot["time_window_error"] = g.windowErr.Error()
		} else {
			snapshot["time_window"] = fmt.Sprintf("%s-%s", formatOffset(g.window.Start), formatOffset(g.window.End))
		}
	}
	return snapshot
}

func formatOffset(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}
