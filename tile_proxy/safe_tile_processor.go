package tile_proxy

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// SafeTileProcessor 限制并发修补数，捕获panic并设置超时
type SafeTileProcessor struct {
	semaphore chan struct{}
	timeout   time.Duration
	log       *zap.Logger
}

// NewSafeTileProcessor maxConcurrent<=0 时不限并发，timeout<=0 时不设超时
func NewSafeTileProcessor(maxConcurrent int, timeout time.Duration, log *zap.Logger) *SafeTileProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	s := &SafeTileProcessor{timeout: timeout, log: log}
	if maxConcurrent > 0 {
		s.semaphore = make(chan struct{}, maxConcurrent)
	}
	return s
}

// ProcessTileResult 处理结果
type ProcessTileResult struct {
	Data []byte
	Err  error
}

// Process 执行 processFn，panic 转为错误
func (s *SafeTileProcessor) Process(ctx context.Context, processFn func() ([]byte, error)) ([]byte, error) {
	result := s.ProcessWithRecover(ctx, processFn)
	return result.Data, result.Err
}

// ProcessWithRecover 带恢复的处理
func (s *SafeTileProcessor) ProcessWithRecover(ctx context.Context, processFn func() ([]byte, error)) ProcessTileResult {
	if s.semaphore != nil {
		select {
		case s.semaphore <- struct{}{}:
		case <-ctx.Done():
			return ProcessTileResult{Err: ctx.Err()}
		}
	}

	done := make(chan ProcessTileResult, 1)
	go func() {
		// 槽位随 processFn 结束释放，超时返回时不提前归还
		if s.semaphore != nil {
			defer func() { <-s.semaphore }()
		}
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("tile processing panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				done <- ProcessTileResult{Err: fmt.Errorf("panic recovered: %v", r)}
			}
		}()

		data, err := processFn()
		done <- ProcessTileResult{Data: data, Err: err}
	}()

	var timeout <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		return ProcessTileResult{Err: ctx.Err()}
	case <-timeout:
		return ProcessTileResult{Err: fmt.Errorf("processing timeout after %s", s.timeout)}
	}
}
