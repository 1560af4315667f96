package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultImageExtensions 是允许写入缓存的图片扩展名。
var DefaultImageExtensions = []string{"png", "jpg", "jpeg", "gif", "webp", "bmp", "ico", "svg", "tif", "tiff", "avif"}

// Load 读取 key=value 配置文件（也兼容 toml/yaml），注入默认值并完成校验。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.conf"
	}

	v := viper.New()
	v.SetConfigFile(path)
	if configType := detectConfigType(path); configType != "" {
		v.SetConfigType(configType)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		boolDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.CacheDir = absCache

	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，供测试与 --check-config 之外的场景复用。
func Default() *Config {
	cfg := &Config{
		MemoryCache: true,
		LogCompress: true,
	}
	applyDefaults(cfg)
	return cfg
}

// detectConfigType 将原始的 .conf 文件交给 properties 解析器处理。
func detectConfigType(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "", "conf", "cfg", "txt":
		return "properties"
	default:
		return ""
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_time", 0)
	v.SetDefault("max_connection", 16)
	v.SetDefault("buffer_size", 8192)
	v.SetDefault("enable_whitelisting", false)
	v.SetDefault("whitelisting", []string{})
	v.SetDefault("enable_time_restriction", false)
	v.SetDefault("time_restriction", "")
	v.SetDefault("cache_dir", "cache")
	v.SetDefault("forbidden_page", "index.html")
	v.SetDefault("image_extensions", DefaultImageExtensions)
	v.SetDefault("memory_cache", true)
	v.SetDefault("queue_size", 0)
	v.SetDefault("client_read_timeout", 0)
	v.SetDefault("client_write_timeout", 0)
	v.SetDefault("upstream_dial_timeout", 0)
	v.SetDefault("upstream_io_timeout", 0)
	v.SetDefault("upstream_use_target_port", false)
	v.SetDefault("admin_listen", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size", 100)
	v.SetDefault("log_max_backups", 10)
	v.SetDefault("log_compress", true)
}

func applyDefaults(c *Config) {
	if c.MaxConnections == 0 {
		c.MaxConnections = 16
	}
	if c.BufferSize == 0 {
		c.BufferSize = 8192
	}
	if strings.TrimSpace(c.CacheDir) == "" {
		c.CacheDir = "cache"
	}
	if strings.TrimSpace(c.ForbiddenPage) == "" {
		c.ForbiddenPage = "index.html"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.TimeRestriction = strings.TrimSpace(c.TimeRestriction)
	c.Whitelist = normalizeList(c.Whitelist, false)
	c.ImageExtensions = normalizeList(c.ImageExtensions, true)
	if len(c.ImageExtensions) == 0 {
		c.ImageExtensions = append([]string(nil), DefaultImageExtensions...)
	}
}

// normalizeList 去除空白与空项；扩展名额外转为小写并去掉前导点。
func normalizeList(items []string, extension bool) []string {
	result := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if extension {
			item = strings.ToLower(strings.TrimPrefix(item, "."))
		}
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	return result
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				return nil, fmt.Errorf("无法解析 Duration 字段: %w", err)
			}
			return d, nil
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// boolDecodeHook 保持原配置语义：只有大小写不敏感的 "true" 视为开启。
func boolDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to.Kind() != reflect.Bool || from.Kind() != reflect.String {
			return data, nil
		}
		return strings.EqualFold(strings.TrimSpace(data.(string)), "true"), nil
	}
}
