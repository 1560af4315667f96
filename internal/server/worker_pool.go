package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
)

// ConnHandler 处理一个已接受的客户端连接，并负责关闭它。
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// ConnHandlerFunc adapts a function to the ConnHandler interface.
type ConnHandlerFunc func(ctx context.Context, conn net.Conn)

// ServeConn makes ConnHandlerFunc satisfy ConnHandler.
func (f ConnHandlerFunc) ServeConn(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

// WorkerPool 以固定数量的 worker 消费有界连接队列，队列满时 Submit 阻塞形成背压。
type WorkerPool struct {
	handler ConnHandler
	ctx     context.Context
	jobs    chan net.Conn
	wg      sync.WaitGroup

	closeOnce sync.Once
	active    atomic.Int64
	workers   int
}

// NewWorkerPool 启动 maxWorkers 个 worker；ctx 传递给每次 ServeConn，
// 取消它不会丢弃已排队的连接，Close 才会结束 worker。
func NewWorkerPool(ctx context.Context, handler ConnHandler, maxWorkers, queueSize int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	wp := &WorkerPool{
		handler: handler,
		ctx:     ctx,
		jobs:    make(chan net.Conn, queueSize),
		workers: maxWorkers,
	}
	for range maxWorkers {
		wp.wg.Add(1)
		go wp.worker()
	}
	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for conn := range wp.jobs {
		wp.active.Add(1)
		wp.handler.ServeConn(wp.ctx, conn)
		wp.active.Add(-1)
	}
}

// Submit 把连接放入队列；队列满时阻塞，ctx 取消时返回 false 且不接管连接。
func (wp *WorkerPool) Submit(ctx context.Context, conn net.Conn) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case wp.jobs <- conn:
		return true
	}
}

// Close 停止接收新连接，等待队列中的连接全部处理完毕。必须在所有 Submit 返回后调用。
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() {
		close(wp.jobs)
	})
	wp.wg.Wait()
}

// Active 返回正在处理的连接数。
func (wp *WorkerPool) Active() int64 {
	return wp.active.Load()
}

// Queued 返回排队等待的连接数。
func (wp *WorkerPool) Queued() int {
	return len(wp.jobs)
}

// Workers 返回 worker 数量。
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Capacity 返回队列容量。
func (wp *WorkerPool) Capacity() int {
	return cap(wp.jobs)
}
