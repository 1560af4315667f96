package httpwire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultPort 是目标缺省端口。
	DefaultPort = 80

	crlf       = "\r\n"
	headerTerm = "\r\n\r\n"
)

var (
	// ErrMalformedRequest 表示请求行或目标无法解析。
	ErrMalformedRequest = errors.New("malformed request")
	// ErrUnsupportedMethod 表示方法不在 GET/POST/HEAD 之内，请求本身可以解析。
	ErrUnsupportedMethod = errors.New("unsupported method")
)

// SupportedMethods 列出代理接受的方法。
var SupportedMethods = []string{"GET", "POST", "HEAD"}

// Request 是一次入站请求的结构化表示，解析后不再修改。
type Request struct {
	Method string
	// Target 保留请求行中的原始目标，便于日志输出。
	Target string
	Scheme string
	Host   string
	Port   int
	// Path 为 origin-form 路径（包含查询串），缺省为 "/"。
	Path  string
	Proto string
	// Headers 按原始顺序保存头部行，不含行尾 CRLF。
	Headers []string
	// Body 为同一次读取中位于头部之后的字节。
	Body []byte
}

// ParseRequest 解析一次读取得到的请求字节。方法不受支持时仍返回解析结果，
// 同时返回包装了 ErrUnsupportedMethod 的错误，交由调用方决定如何拒绝。
func ParseRequest(data []byte) (*Request, error) {
	head, body := splitHead(data)
	lines := splitLines(head)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty request", ErrMalformedRequest)
	}

	tokens := strings.Fields(lines[0])
	if len(tokens) != 3 {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedRequest, lines[0])
	}
	method, target, proto := tokens[0], tokens[1], tokens[2]
	if !strings.HasPrefix(proto, "HTTP/") {
		return nil, fmt.Errorf("%w: protocol %q", ErrMalformedRequest, proto)
	}

	req := &Request{
		Method:  method,
		Target:  target,
		Proto:   proto,
		Headers: append([]string(nil), lines[1:]...),
		Body:    body,
	}
	if err := req.resolveTarget(); err != nil {
		return nil, err
	}

	if !IsSupportedMethod(method) {
		return req, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return req, nil
}

// IsSupportedMethod 判断方法是否为 GET/POST/HEAD（区分大小写）。
func IsSupportedMethod(method string) bool {
	for _, m := range SupportedMethods {
		if m == method {
			return true
		}
	}
	return false
}

func (r *Request) resolveTarget() error {
	rest := r.Target
	r.Scheme = "http"
	if idx := strings.Index(rest, "://"); idx != -1 {
		r.Scheme = strings.ToLower(rest[:idx])
		rest = rest[idx+3:]
	}

	var authority string
	if strings.HasPrefix(rest, "/") {
		r.Path = rest
		host, ok := r.Header("Host")
		if !ok {
			return fmt.Errorf("%w: origin-form target without Host header", ErrMalformedRequest)
		}
		authority = host
	} else {
		cut := strings.IndexAny(rest, "/?")
		switch {
		case cut == -1:
			authority, r.Path = rest, "/"
		case rest[cut] == '?':
			authority, r.Path = rest[:cut], "/"+rest[cut:]
		default:
			authority, r.Path = rest[:cut], rest[cut:]
		}
	}

	host, port, err := splitHostPort(authority)
	if err != nil {
		return err
	}
	r.Host, r.Port = host, port
	return nil
}

func splitHostPort(authority string) (string, int, error) {
	authority = strings.TrimSpace(authority)
	if at := strings.LastIndexByte(authority, '@'); at != -1 {
		authority = authority[at+1:]
	}

	host, portRaw := authority, ""
	colon := strings.LastIndexByte(authority, ':')
	if colon != -1 && colon > strings.LastIndexByte(authority, ']') {
		host, portRaw = authority[:colon], authority[colon+1:]
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return "", 0, fmt.Errorf("%w: empty host in %q", ErrMalformedRequest, authority)
	}
	if portRaw == "" {
		return host, DefaultPort, nil
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: invalid port %q", ErrMalformedRequest, portRaw)
	}
	return host, port, nil
}

// Header 大小写不敏感地查找第一个同名头部的值。
func (r *Request) Header(name string) (string, bool) {
	return lookupHeader(r.Headers, name)
}

// ContentLength 返回请求声明的正文长度。
func (r *Request) ContentLength() (int, bool) {
	raw, ok := r.Header("Content-Length")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// RequestLine 返回改写为 origin-form 后的请求行。
func (r *Request) RequestLine() string {
	return r.Method + " " + r.Path + " " + r.Proto
}

// Raw 按原始顺序重新拼装请求，并保证头部以 CRLF CRLF 结束。
func (r *Request) Raw() []byte {
	var buf bytes.Buffer
	buf.WriteString(r.RequestLine())
	buf.WriteString(crlf)
	for _, line := range r.Headers {
		buf.WriteString(line)
		buf.WriteString(crlf)
	}
	buf.WriteString(crlf)
	buf.Write(r.Body)
	return buf.Bytes()
}

// splitHead 在第一个空行处切分头部与正文。
func splitHead(data []byte) ([]byte, []byte) {
	if idx := bytes.Index(data, []byte(headerTerm)); idx != -1 {
		return data[:idx], data[idx+len(headerTerm):]
	}
	if idx := bytes.Index(data, []byte("\n\n")); idx != -1 {
		return data[:idx], data[idx+2:]
	}
	return data, nil
}

// splitLines 按 CRLF（兼容裸 LF）切分并丢弃末尾空行。
func splitLines(head []byte) []string {
	raw := strings.Split(string(head), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		lines = append(lines, strings.TrimSuffix(line, "\r"))
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func lookupHeader(lines []string, name string) (string, bool) {
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}
