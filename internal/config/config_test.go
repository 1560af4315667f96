package config

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("默认配置应通过校验: %v", err)
	}
	if cfg.BufferSize != 8192 {
		t.Fatalf("默认 buffer_size 应为 8192，得到 %d", cfg.BufferSize)
	}
	if cfg.MaxConnections != 16 {
		t.Fatalf("默认 max_connection 应为 16，得到 %d", cfg.MaxConnections)
	}
	if cfg.ForbiddenPage != "index.html" {
		t.Fatalf("默认 403 页面应为 index.html，得到 %s", cfg.ForbiddenPage)
	}
	if !cfg.MemoryCache {
		t.Fatalf("默认应开启内存镜像")
	}
}

func TestValidateRejectsNonPositiveConnections(t *testing.T) {
	cfg := Default()
	cfg.MaxConnections = -1
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("期望 FieldError，得到 %v", err)
	}
	if fieldErr.Field != "MaxConnections" {
		t.Fatalf("字段路径错误: %s", fieldErr.Field)
	}
}

func TestValidateAllowsEmptyWhitelist(t *testing.T) {
	cfg := Default()
	cfg.EnableWhitelist = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("启用白名单但为空时应允许启动（运行期全部拒绝）: %v", err)
	}
}

func TestValidateAdminListen(t *testing.T) {
	cfg := Default()
	cfg.AdminListen = "not a host"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非法 admin_listen 应报错")
	}
	cfg.AdminListen = "127.0.0.1:9090"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("合法 admin_listen 不应报错: %v", err)
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "chatty"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知日志级别应报错")
	}
}

func TestEffectiveQueueSize(t *testing.T) {
	cfg := Default()
	cfg.MaxConnections = 4
	if got := cfg.EffectiveQueueSize(); got != 4 {
		t.Fatalf("未配置 queue_size 时应回退 max_connection，得到 %d", got)
	}
	cfg.QueueSize = 32
	if got := cfg.EffectiveQueueSize(); got != 32 {
		t.Fatalf("queue_size 应优先生效，得到 %d", got)
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	testCases := []struct {
		raw  string
		want time.Duration
	}{
		{"", 0},
		{"45", 45 * time.Second},
		{"1m30s", 90 * time.Second},
		{"0x10", 16 * time.Second},
		{"0.25", 250 * time.Millisecond},
	}
	for _, tc := range testCases {
		var d Duration
		if err := d.UnmarshalText([]byte(tc.raw)); err != nil {
			t.Fatalf("解析 %q 失败: %v", tc.raw, err)
		}
		if d.DurationValue() != tc.want {
			t.Fatalf("解析 %q 期望 %v，得到 %v", tc.raw, tc.want, d.DurationValue())
		}
	}

	var d Duration
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatalf("非法 Duration 应报错")
	}
}
