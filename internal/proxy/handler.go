package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-proxy/internal/cache"
	"github.com/any-hub/any-proxy/internal/httpwire"
	"github.com/any-hub/any-proxy/internal/logging"
	"github.com/any-hub/any-proxy/internal/policy"
)

// Outcome 是单个连接的最终结果，供统计与日志使用。
type Outcome string

const (
	OutcomeCacheHit      Outcome = "cache_hit"
	OutcomeForwarded     Outcome = "forwarded"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeUnsupported   Outcome = "unsupported_method"
	OutcomeDenied        Outcome = "denied"
	OutcomeUpstreamError Outcome = "upstream_error"
	OutcomeCacheError    Outcome = "cache_error"
	OutcomePanic         Outcome = "panic"
)

// Recorder 接收连接结果，实现需并发安全。
type Recorder interface {
	Record(Outcome)
}

type nopRecorder struct{}

func (nopRecorder) Record(Outcome) {}

// HandlerOptions 汇总 Handler 的依赖，Store 为空时不查缓存。
type HandlerOptions struct {
	Gate      *policy.Gate
	Store     cache.Store
	Writer    cache.ImageWriter
	Forwarder *Forwarder
	Forbidden ForbiddenPage
	Logger    *logrus.Logger
	Recorder  Recorder

	BufferSize   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handler 负责单个客户端连接的完整生命周期：
// 解析 → 策略检查 → 缓存命中直接返回 / 未命中回源 → 按条件写缓存 → 回复 → 关闭。
type Handler struct {
	opts HandlerOptions
}

// NewHandler 构造连接处理器。
func NewHandler(opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 8192
	}
	if opts.Forwarder == nil {
		opts.Forwarder = NewForwarder(nil, ForwarderOptions{BufferSize: opts.BufferSize})
	}
	return &Handler{opts: opts}
}

// ServeConn 处理一次请求/响应并关闭连接，任何错误都只影响当前连接。
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) {
	started := time.Now()
	fields := logging.ConnFields(uuid.NewString(), remoteAddr(conn))
	fields["action"] = "proxy"

	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			h.opts.Recorder.Record(OutcomePanic)
			h.opts.Logger.WithFields(fields).WithField("panic", fmt.Sprint(r)).Error("proxy_panic")
		}
	}()

	if h.opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	}
	buf := make([]byte, h.opts.BufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			h.opts.Logger.WithFields(fields).WithError(err).Debug("client_read_failed")
		}
		return
	}

	req, err := httpwire.ParseRequest(buf[:n])
	if req != nil {
		for k, v := range logging.RequestFields(req.Method, req.Host, req.Path, false) {
			fields[k] = v
		}
	}
	if err != nil {
		outcome := OutcomeMalformed
		if errors.Is(err, httpwire.ErrUnsupportedMethod) {
			outcome = OutcomeUnsupported
		}
		h.opts.Recorder.Record(outcome)
		h.opts.Logger.WithFields(fields).WithError(err).Warn("request_rejected")
		h.reply(conn, fields, h.opts.Forbidden.Bytes())
		return
	}

	if decision := h.opts.Gate.Check(req.Host); !decision.Allowed {
		h.opts.Recorder.Record(OutcomeDenied)
		h.opts.Logger.WithFields(fields).WithField("reason", string(decision.Reason)).Info("request_denied")
		h.reply(conn, fields, h.opts.Forbidden.Bytes())
		return
	}

	key := cache.Key{Host: req.Host, Path: req.Path}
	if entry := h.lookup(ctx, req, key, fields); entry != nil {
		out := entry.Header
		if req.Method != "HEAD" {
			out = entry.Bytes()
		}
		h.opts.Recorder.Record(OutcomeCacheHit)
		fields["cache_hit"] = true
		h.reply(conn, fields, out)
		h.logResult(fields, started, nil)
		return
	}

	if h.opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	}
	resp, err := h.opts.Forwarder.Forward(ctx, req, remainingBody(req, conn))
	if err != nil {
		h.opts.Recorder.Record(OutcomeUpstreamError)
		h.reply(conn, fields, badGatewayReply())
		h.logResult(fields, started, err)
		return
	}
	fields["upstream_status"] = resp.Head.StatusCode
	fields["framing"] = resp.Mode.String()

	if resp.Complete && h.opts.Writer.Admit(req.Method, resp.Head.StatusCode, resp.Head.ContentType(), req.Path) {
		if _, err := h.opts.Writer.Put(ctx, key, resp.Header, resp.Body); err != nil {
			h.opts.Recorder.Record(OutcomeCacheError)
			h.opts.Logger.WithFields(fields).WithError(err).Warn("cache_put_failed")
		} else {
			fields["cached"] = true
		}
	}

	h.opts.Recorder.Record(OutcomeForwarded)
	h.reply(conn, fields, resp.Bytes())
	h.logResult(fields, started, nil)
}

// lookup 仅对 GET/HEAD 查缓存；读取失败按未命中处理。
func (h *Handler) lookup(ctx context.Context, req *httpwire.Request, key cache.Key, fields logrus.Fields) *cache.Entry {
	if h.opts.Store == nil || (req.Method != "GET" && req.Method != "HEAD") {
		return nil
	}
	entry, err := h.opts.Store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) && !errors.Is(err, cache.ErrExpired) {
			h.opts.Logger.WithFields(fields).WithError(err).Warn("cache_read_failed")
		}
		return nil
	}
	return entry
}

func (h *Handler) reply(conn net.Conn, fields logrus.Fields, payload []byte) {
	if h.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	}
	if _, err := conn.Write(payload); err != nil {
		h.opts.Logger.WithFields(fields).WithError(err).Debug("client_write_failed")
	}
}

func (h *Handler) logResult(fields logrus.Fields, started time.Time, err error) {
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.opts.Logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.opts.Logger.WithFields(fields).Info("proxy_complete")
}

// remainingBody 返回 POST 正文中首次读取之外、仍需从客户端读取的部分。
func remainingBody(req *httpwire.Request, conn net.Conn) io.Reader {
	if req.Method != "POST" {
		return nil
	}
	declared, ok := req.ContentLength()
	if !ok || declared <= len(req.Body) {
		return nil
	}
	return io.LimitReader(conn, int64(declared-len(req.Body)))
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
