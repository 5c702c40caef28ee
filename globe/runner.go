package globe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultFrameInterval 帧循环节拍
const DefaultFrameInterval = 16 * time.Millisecond

// ErrRunnerStopped 帧循环已停止
var ErrRunnerStopped = errors.New("globe runner stopped")

type call struct {
	fn   func(g *Globe) error
	done chan error
}

// Runner 拥有 Globe 的帧循环协程，所有对 Globe 的调用都经它串行执行
type Runner struct {
	globe    *Globe
	interval time.Duration
	calls    chan call

	started atomic.Bool
	once    sync.Once
	stop    chan struct{}
	exited  chan struct{}
}

// NewRunner 创建帧循环，interval<=0 时使用默认节拍
func NewRunner(g *Globe, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Runner{
		globe:    g,
		interval: interval,
		calls:    make(chan call),
		stop:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// Start 启动帧循环，ctx 取消或调用 Stop 后退出并释放 Globe
func (r *Runner) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.loop(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.exited)
	defer r.globe.Dispose()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case c := <-r.calls:
			c.done <- r.invoke(c.fn)
		case <-ticker.C:
			r.globe.RenderIfRequested()
		}
	}
}

func (r *Runner) invoke(fn func(g *Globe) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("globe call panicked", "panic", p)
			err = errors.New("globe call panicked")
		}
	}()
	return fn(r.globe)
}

// Do 在帧循环协程上执行 fn 并等待其返回
func (r *Runner) Do(ctx context.Context, fn func(g *Globe) error) error {
	c := call{fn: fn, done: make(chan error, 1)}
	select {
	case r.calls <- c:
	case <-r.exited:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-r.exited:
		return ErrRunnerStopped
	}
}

// Step 立即绘制 n 帧
func (r *Runner) Step(ctx context.Context, n int) error {
	return r.Do(ctx, func(g *Globe) error {
		for i := 0; i < n; i++ {
			g.Render()
		}
		return nil
	})
}

// Events 事件中心可在任意协程使用
func (r *Runner) Events() *Events {
	return r.globe.Events()
}

// Stop 停止帧循环并等待退出，未启动时 Globe 由调用方释放
func (r *Runner) Stop() {
	r.once.Do(func() { close(r.stop) })
	if r.started.Load() {
		<-r.exited
	}
}
