package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"

	"github.com/any-hub/any-proxy/internal/httpwire"
)

var (
	// ErrUpstreamConnect 表示无法与源站建立连接。
	ErrUpstreamConnect = errors.New("upstream connect failed")
	// ErrUpstreamIO 表示与源站读写失败或响应无法分帧。
	ErrUpstreamIO = errors.New("upstream io failed")
)

// ForwarderOptions 描述回源行为，零值表示无超时、固定 80 端口。
type ForwarderOptions struct {
	BufferSize    int
	DialTimeout   time.Duration
	IOTimeout     time.Duration
	UseTargetPort bool
}

// Forwarder 每个请求新建一条上游连接，发送改写后的请求并按分帧规则读取响应。
type Forwarder struct {
	dialer transport.StreamDialer
	opts   ForwarderOptions
}

// NewTCPDialer 返回直连源站的 StreamDialer。
func NewTCPDialer(dialTimeout time.Duration) transport.StreamDialer {
	return &transport.TCPDialer{Dialer: net.Dialer{Timeout: dialTimeout}}
}

// NewForwarder 构造 Forwarder；dialer 为空时使用直连 TCP。
func NewForwarder(dialer transport.StreamDialer, opts ForwarderOptions) *Forwarder {
	if dialer == nil {
		dialer = NewTCPDialer(opts.DialTimeout)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 8192
	}
	return &Forwarder{dialer: dialer, opts: opts}
}

// Address 返回请求实际回源的 host:port。
func (f *Forwarder) Address(req *httpwire.Request) string {
	port := httpwire.DefaultPort
	if f.opts.UseTargetPort {
		port = req.Port
	}
	return net.JoinHostPort(req.Host, strconv.Itoa(port))
}

// Forward 发送请求并返回分帧后的响应。extra 为客户端尚未读取的 POST 正文，可为 nil。
func (f *Forwarder) Forward(ctx context.Context, req *httpwire.Request, extra io.Reader) (*httpwire.Response, error) {
	dialCtx := ctx
	if f.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, f.opts.DialTimeout)
		defer cancel()
	}

	addr := f.Address(req)
	conn, err := f.dialer.DialStream(dialCtx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstreamConnect, addr, err)
	}
	defer conn.Close()

	if f.opts.IOTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(f.opts.IOTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := conn.Write(BuildOutbound(req)); err != nil {
		return nil, fmt.Errorf("%w: write request: %w", ErrUpstreamIO, err)
	}
	if extra != nil && req.Method == "POST" {
		if _, err := io.Copy(conn, extra); err != nil {
			return nil, fmt.Errorf("%w: write body: %w", ErrUpstreamIO, err)
		}
	}

	return f.readResponse(conn, req.Method == "HEAD")
}

func (f *Forwarder) readResponse(conn net.Conn, headOnly bool) (*httpwire.Response, error) {
	framer := httpwire.NewFramer(headOnly)
	buf := make([]byte, f.opts.BufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			done, ferr := framer.Write(buf[:n])
			if ferr != nil {
				return nil, fmt.Errorf("%w: %w", ErrUpstreamIO, ferr)
			}
			if done {
				break
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: read response: %w", ErrUpstreamIO, err)
		}
	}

	resp, err := framer.Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamIO, err)
	}
	return resp, nil
}

// BuildOutbound 按方法生成发往源站的请求字节：
// GET/HEAD 重建为最小 HTTP/1.0 请求；POST 保留原头部与正文，仅强制 Connection: close。
func BuildOutbound(req *httpwire.Request) []byte {
	var buf bytes.Buffer
	if req.Method != "POST" {
		fmt.Fprintf(&buf, "%s %s HTTP/1.0\r\nHost: %s\r\nConnection: close\r\n\r\n", req.Method, req.Path, req.Host)
		return buf.Bytes()
	}

	fmt.Fprintf(&buf, "%s %s HTTP/1.0\r\n", req.Method, req.Path)
	replaced := false
	for _, line := range req.Headers {
		if key, _, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(key), "Connection") {
			line = "Connection: close"
			replaced = true
		}
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	if !replaced {
		buf.WriteString("Connection: close\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(req.Body)
	return buf.Bytes()
}
