package cache

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"
)

// ErrStoreUnavailable 表示当前未注入缓存存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// ImageWriter 在 Store 之上加入准入规则：只有 GET 成功返回、Content-Type 为
// image/* 且扩展名在允许列表中的响应才会写入缓存。
type ImageWriter struct {
	store      Store
	extensions map[string]struct{}
}

// NewImageWriter 构造准入感知的写入器，扩展名不区分大小写、不带前导点。
func NewImageWriter(store Store, extensions []string) ImageWriter {
	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			allowed[ext] = struct{}{}
		}
	}
	return ImageWriter{store: store, extensions: allowed}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w ImageWriter) Enabled() bool {
	return w.store != nil
}

// Admit 判断一次上游响应是否可以写入缓存。
func (w ImageWriter) Admit(method string, status int, contentType, requestPath string) bool {
	if !w.Enabled() || method != http.MethodGet || status != http.StatusOK {
		return false
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return false
	}
	_, ok := w.extensions[Extension(requestPath)]
	return ok
}

// Put 写入缓存，并保持与 Store 相同的语义。
func (w ImageWriter) Put(ctx context.Context, key Key, header, body []byte) (*Entry, error) {
	if w.store == nil {
		return nil, ErrStoreUnavailable
	}
	return w.store.Put(ctx, key, header, body)
}

// Extension 返回请求路径最后一段的小写扩展名（不含点与查询串）。
func Extension(requestPath string) string {
	if idx := strings.IndexAny(requestPath, "?#"); idx != -1 {
		requestPath = requestPath[:idx]
	}
	ext := path.Ext(path.Base(requestPath))
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
