package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 识别 "30s"、"5m"、整数或小数秒值等写法，配置加载的 decode hook 也经由此处解析。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// Config 对应 config.conf 中的 key=value 配置，启动后只读，所有 worker 共享。
type Config struct {
	// 代理核心参数，沿用原始配置文件的键名。
	CacheTTL              Duration `mapstructure:"cache_time" validate:"gte=0"`
	MaxConnections        int      `mapstructure:"max_connection" validate:"gt=0"`
	BufferSize            int      `mapstructure:"buffer_size" validate:"gt=0"`
	EnableWhitelist       bool     `mapstructure:"enable_whitelisting"`
	Whitelist             []string `mapstructure:"whitelisting"`
	EnableTimeRestriction bool     `mapstructure:"enable_time_restriction"`
	TimeRestriction       string   `mapstructure:"time_restriction"`

	// 缓存与静态资源。
	CacheDir        string   `mapstructure:"cache_dir" validate:"required"`
	ForbiddenPage   string   `mapstructure:"forbidden_page"`
	ImageExtensions []string `mapstructure:"image_extensions" validate:"min=1,dive,required"`
	MemoryCache     bool     `mapstructure:"memory_cache"`

	// 并发与超时；超时为 0 表示不设置 deadline。
	QueueSize             int      `mapstructure:"queue_size" validate:"gte=0"`
	ClientReadTimeout     Duration `mapstructure:"client_read_timeout" validate:"gte=0"`
	ClientWriteTimeout    Duration `mapstructure:"client_write_timeout" validate:"gte=0"`
	UpstreamDialTimeout   Duration `mapstructure:"upstream_dial_timeout" validate:"gte=0"`
	UpstreamIOTimeout     Duration `mapstructure:"upstream_io_timeout" validate:"gte=0"`
	UpstreamUseTargetPort bool     `mapstructure:"upstream_use_target_port"`

	AdminListen string `mapstructure:"admin_listen" validate:"omitempty,hostname_port"`

	LogLevel      string `mapstructure:"log_level" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFilePath   string `mapstructure:"log_file"`
	LogMaxSize    int    `mapstructure:"log_max_size" validate:"gte=0"`
	LogMaxBackups int    `mapstructure:"log_max_backups" validate:"gte=0"`
	LogCompress   bool   `mapstructure:"log_compress"`
}

// EffectiveQueueSize 返回连接队列长度，未配置时与 worker 数一致。
func (c *Config) EffectiveQueueSize() int {
	if c.QueueSize > 0 {
		return c.QueueSize
	}
	return c.MaxConnections
}
