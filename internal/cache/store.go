package cache

import (
	"context"
	"errors"
	"time"
)

// Store 负责管理图片缓存的读写。磁盘布局遵循：
//
//	<CacheDir>/<Host>/<path>        # 原始正文，保留扩展名
//	<CacheDir>/<Host>/<path>.meta   # JSON 元数据：URL、写入时间、响应头
//
// 同一 Key 至多存在一个有效条目，新的写入无条件覆盖旧条目。
type Store interface {
	// Get 返回未过期的条目。不存在返回 ErrNotFound，已过期返回 ErrExpired。
	Get(ctx context.Context, key Key) (*Entry, error)

	// Put 写入响应头与正文并产出新的 Entry。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。
	Put(ctx context.Context, key Key, header, body []byte) (*Entry, error)

	// Stat 返回条目元数据而不做 TTL 过滤，也不读取正文。
	Stat(ctx context.Context, key Key) (*Entry, error)
}

// Key 唯一定位一个缓存条目（Host + 请求路径），大小写敏感。
type Key struct {
	Host string
	Path string
}

// String 返回用于加锁与内存镜像的扁平键。
func (k Key) String() string {
	return k.Host + "::" + k.Path
}

// URL 返回不含协议的 host+path 形式，与元数据中的 url 字段一致。
func (k Key) URL() string {
	return k.Host + k.Path
}

// Entry 表示一次缓存命中结果。
type Entry struct {
	Key       Key       `json:"key"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	StoredAt  time.Time `json:"stored_at"`
	Header    []byte    `json:"-"`
	Body      []byte    `json:"-"`
}

// ExpiresAt 返回条目在给定 TTL 下的过期时间。
func (e *Entry) ExpiresAt(ttl time.Duration) time.Time {
	return e.StoredAt.Add(ttl)
}

// Fresh 判断 now-StoredAt 是否不超过 TTL（边界视为有效）。
func (e *Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.StoredAt) <= ttl
}

// Bytes 返回头部与正文拼接后的响应字节。
func (e *Entry) Bytes() []byte {
	out := make([]byte, 0, len(e.Header)+len(e.Body))
	out = append(out, e.Header...)
	return append(out, e.Body...)
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrExpired 表示条目存在但已超过 TTL。
	ErrExpired = errors.New("cache entry expired")
)
