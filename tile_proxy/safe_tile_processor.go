// safe_tile_processor.go
package tile_proxy

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// SafeTileProcessor 限制并发、捕获panic并带超时的瓦片处理器
type SafeTileProcessor struct {
	semaphore chan struct{}
	timeout   time.Duration
}

// NewSafeTileProcessor 创建安全处理器
func NewSafeTileProcessor(maxConcurrent int, timeout time.Duration) *SafeTileProcessor {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SafeTileProcessor{
		semaphore: make(chan struct{}, maxConcurrent),
		timeout:   timeout,
	}
}

// ProcessTileResult 处理结果
type ProcessTileResult struct {
	Data []byte
	Err  error
}

// ProcessWithRecover 带恢复的处理
func (s *SafeTileProcessor) ProcessWithRecover(
	ctx context.Context,
	processFn func(ctx context.Context) ([]byte, error),
) ProcessTileResult {
	// 获取信号量
	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-ctx.Done():
		return ProcessTileResult{Err: ctx.Err()}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan ProcessTileResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("tile processing panic", "panic", r, "stack", string(debug.Stack()))
				done <- ProcessTileResult{Err: fmt.Errorf("panic recovered: %v", r)}
			}
		}()

		data, err := processFn(ctx)
		done <- ProcessTileResult{Data: data, Err: err}
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return ProcessTileResult{Err: fmt.Errorf("processing timeout: %w", ctx.Err())}
		}
		return ProcessTileResult{Err: ctx.Err()}
	}
}
