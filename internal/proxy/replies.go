package proxy

import (
	"os"
)

const (
	forbiddenHead  = "HTTP/1.1 403 Forbidden\r\nContent-Type: text/html\r\n\r\n"
	badGatewayHead = "HTTP/1.1 502 Bad Gateway\r\nContent-Type: text/html\r\nConnection: close\r\n\r\n"

	fallbackForbiddenBody = "<!DOCTYPE html><html><head><title>403 Forbidden</title></head>" +
		"<body><h1>403 Forbidden</h1><p>Access to this resource is not allowed.</p></body></html>"
	badGatewayBody = "<!DOCTYPE html><html><head><title>502 Bad Gateway</title></head>" +
		"<body><h1>502 Bad Gateway</h1><p>The upstream server could not be reached.</p></body></html>"
)

// ForbiddenPage 每次拒绝时读取本地 HTML 文件作为 403 正文，文件缺失时使用内置页面。
type ForbiddenPage struct {
	Path string
}

// Bytes 返回完整的 403 响应字节。
func (p ForbiddenPage) Bytes() []byte {
	body := []byte(fallbackForbiddenBody)
	if p.Path != "" {
		if data, err := os.ReadFile(p.Path); err == nil {
			body = data
		}
	}
	out := make([]byte, 0, len(forbiddenHead)+len(body))
	out = append(out, forbiddenHead...)
	return append(out, body...)
}

func badGatewayReply() []byte {
	return []byte(badGatewayHead + badGatewayBody)
}
