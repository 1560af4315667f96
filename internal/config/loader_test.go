package config

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadPropertiesFile(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.conf"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.CacheTTL.DurationValue() != time.Minute {
		t.Fatalf("cache_time 应解析为 60s，得到 %v", cfg.CacheTTL.DurationValue())
	}
	if cfg.MaxConnections != 5 || cfg.BufferSize != 4096 {
		t.Fatalf("整数字段解析错误: %+v", cfg)
	}
	if !cfg.EnableWhitelist {
		t.Fatalf("enable_whitelisting=True 应视为开启")
	}
	if want := []string{"example.com", "oosc.online"}; !reflect.DeepEqual(cfg.Whitelist, want) {
		t.Fatalf("白名单应去除空白与空项，得到 %#v", cfg.Whitelist)
	}
	if !cfg.EnableTimeRestriction || cfg.TimeRestriction != "08:00-20:00" {
		t.Fatalf("时间窗口解析错误: %v %q", cfg.EnableTimeRestriction, cfg.TimeRestriction)
	}
	if !filepath.IsAbs(cfg.CacheDir) {
		t.Fatalf("cache_dir 应转为绝对路径，得到 %s", cfg.CacheDir)
	}
	if len(cfg.ImageExtensions) == 0 {
		t.Fatalf("未配置扩展名时应使用默认列表")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	if _, err := Load(testConfigPath(t, "invalid.conf")); err == nil {
		t.Fatalf("max_connection 为负数时应返回错误")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.conf")); err == nil {
		t.Fatalf("配置文件不存在时应返回错误")
	}
}

func TestLoadBooleanRequiresLiteralTrue(t *testing.T) {
	path := writeTempConfig(t, "config.conf", "enable_whitelisting=yes\nwhitelisting=example.com\nenable_time_restriction=TRUE\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.EnableWhitelist {
		t.Fatalf("只有 \"true\" 才应视为开启，yes 不应生效")
	}
	if !cfg.EnableTimeRestriction {
		t.Fatalf("TRUE 应大小写不敏感地视为开启")
	}
}

func TestLoadMalformedWindowIsAccepted(t *testing.T) {
	path := writeTempConfig(t, "config.conf", "enable_time_restriction=true\ntime_restriction=always\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("格式错误的时间窗口应在运行期拒绝请求，而不是加载失败: %v", err)
	}
	if cfg.TimeRestriction != "always" {
		t.Fatalf("时间窗口原样保留，得到 %q", cfg.TimeRestriction)
	}
}

func TestLoadDurationFormsFromProperties(t *testing.T) {
	content := "cache_time=0x10\nupstream_dial_timeout=1.5\nclient_read_timeout=2m\n"
	cfg, err := Load(writeTempConfig(t, "config.conf", content))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.CacheTTL.DurationValue() != 16*time.Second {
		t.Fatalf("十六进制秒值解析错误: %v", cfg.CacheTTL.DurationValue())
	}
	if cfg.UpstreamDialTimeout.DurationValue() != 1500*time.Millisecond {
		t.Fatalf("小数秒值解析错误: %v", cfg.UpstreamDialTimeout.DurationValue())
	}
	if cfg.ClientReadTimeout.DurationValue() != 2*time.Minute {
		t.Fatalf("Go Duration 写法解析错误: %v", cfg.ClientReadTimeout.DurationValue())
	}

	if _, err := Load(writeTempConfig(t, "config.conf", "cache_time=soon\n")); err == nil {
		t.Fatalf("非法 Duration 应导致加载失败")
	}
}

func TestLoadTOMLWithAmbientKeys(t *testing.T) {
	content := `
cache_time = "90s"
max_connection = 8
buffer_size = 1024
image_extensions = [".PNG", "jpg"]
upstream_io_timeout = 5
admin_listen = "127.0.0.1:9090"
log_level = "DEBUG"
`
	cfg, err := Load(writeTempConfig(t, "config.toml", content))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.CacheTTL.DurationValue() != 90*time.Second {
		t.Fatalf("cache_time 应支持 Go Duration 写法，得到 %v", cfg.CacheTTL.DurationValue())
	}
	if want := []string{"png", "jpg"}; !reflect.DeepEqual(cfg.ImageExtensions, want) {
		t.Fatalf("扩展名应统一为小写且去掉前导点，得到 %#v", cfg.ImageExtensions)
	}
	if cfg.UpstreamIOTimeout.DurationValue() != 5*time.Second {
		t.Fatalf("upstream_io_timeout 解析错误: %v", cfg.UpstreamIOTimeout.DurationValue())
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("日志级别应转为小写，得到 %s", cfg.LogLevel)
	}
	if cfg.AdminListen != "127.0.0.1:9090" {
		t.Fatalf("admin_listen 解析错误: %s", cfg.AdminListen)
	}
}
