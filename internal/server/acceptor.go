package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

const maxAcceptBackoff = time.Second

// Acceptor 循环 accept 客户端连接并提交到 WorkerPool。
type Acceptor struct {
	pool   *WorkerPool
	stats  *Stats
	logger *logrus.Logger
}

// NewAcceptor 构造 Acceptor，stats 可为空。
func NewAcceptor(pool *WorkerPool, stats *Stats, logger *logrus.Logger) *Acceptor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Acceptor{pool: pool, stats: stats, logger: logger}
}

// Serve 阻塞直到 ctx 取消或监听失败。返回前关闭 listener 并等待已排队的连接处理完毕。
func (a *Acceptor) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()
	defer a.pool.Close()

	fields := logrus.Fields{"action": "accept", "listen": ln.Addr().String()}
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				a.logger.WithFields(fields).Info("acceptor_stopped")
				return nil
			}
			backoff = nextBackoff(backoff)
			a.logger.WithFields(fields).WithError(err).Warnf("accept failed, retrying in %s", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		if a.stats != nil {
			a.stats.ConnAccepted()
		}
		if !a.pool.Submit(ctx, conn) {
			_ = conn.Close()
			return nil
		}
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return 5 * time.Millisecond
	}
	if current *= 2; current > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return current
}

// Listen 绑定监听地址，失败属于启动期致命错误。
func Listen(host string, port int) (net.Listener, error) {
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}
