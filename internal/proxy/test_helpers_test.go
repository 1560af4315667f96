package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"

	"github.com/any-hub/any-proxy/internal/httpwire"
)

// testOrigin 是一个本地 TCP 源站，记录收到的请求并返回固定响应。
type testOrigin struct {
	ln       net.Listener
	respond  func(req []byte) []byte
	hold     bool
	stop     chan struct{}
	mu       sync.Mutex
	requests [][]byte
}

func startOrigin(t *testing.T, respond func(req []byte) []byte) *testOrigin {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen origin: %v", err)
	}
	o := &testOrigin{ln: ln, respond: respond, stop: make(chan struct{})}
	t.Cleanup(func() {
		close(o.stop)
		ln.Close()
	})
	go o.serve()
	return o
}

// startHoldingOrigin 写完响应后保持连接，直到测试结束。
func startHoldingOrigin(t *testing.T, respond func(req []byte) []byte) *testOrigin {
	o := startOrigin(t, respond)
	o.hold = true
	return o
}

func staticResponse(raw string) func([]byte) []byte {
	return func([]byte) []byte { return []byte(raw) }
}

func (o *testOrigin) serve() {
	for {
		conn, err := o.ln.Accept()
		if err != nil {
			return
		}
		go o.handle(conn)
	}
}

func (o *testOrigin) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	req := readRequest(conn)
	o.mu.Lock()
	o.requests = append(o.requests, req)
	o.mu.Unlock()

	_, _ = conn.Write(o.respond(req))
	if o.hold {
		<-o.stop
	}
}

func (o *testOrigin) Requests() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]byte(nil), o.requests...)
}

// readRequest 读取头部，以及 Content-Length 声明的正文。
func readRequest(conn net.Conn) []byte {
	var buf []byte
	chunk := make([]byte, 1024)
	for {
		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if end := httpwire.HeaderEnd(buf); end != -1 {
			want := end
			if req, perr := httpwire.ParseRequest(buf); perr == nil {
				if cl, ok := req.ContentLength(); ok {
					want += cl
				}
			}
			if len(buf) >= want {
				return buf
			}
		}
		if err != nil {
			return buf
		}
	}
}

// countingDialer 把所有拨号重定向到 target，并统计拨号次数。
type countingDialer struct {
	target string
	dials  atomic.Int32
	mu     sync.Mutex
	addrs  []string
	err    error
	panic  bool
}

func (d *countingDialer) DialStream(ctx context.Context, raddr string) (transport.StreamConn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	d.addrs = append(d.addrs, raddr)
	d.mu.Unlock()
	if d.panic {
		panic("dialer exploded")
	}
	if d.err != nil {
		return nil, d.err
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", d.target)
	if err != nil {
		return nil, err
	}
	return conn.(*net.TCPConn), nil
}

func (d *countingDialer) Addrs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addrs...)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[Outcome]int
}

func (r *countingRecorder) Record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[Outcome]int)
	}
	r.counts[o]++
}

func (r *countingRecorder) Count(o Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[o]
}

// roundTrip 通过 net.Pipe 把原始请求交给 Handler，并读取完整回复。
func roundTrip(t *testing.T, h *Handler, raw string) []byte {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeConn(context.Background(), server)
	}()

	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := client.Write([]byte(raw)); err != nil {
		t.Fatalf("write request: %v", err)
	}
	out, err := io.ReadAll(client)
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("read reply: %v", err)
	}
	client.Close()
	<-done
	return out
}

func splitReply(t *testing.T, out []byte) (string, []byte) {
	t.Helper()
	end := httpwire.HeaderEnd(out)
	if end == -1 {
		t.Fatalf("reply has no header boundary: %q", out)
	}
	return string(out[:end]), bytes.Clone(out[end:])
}
