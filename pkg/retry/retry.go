// Package retry 提供一个通用的有界重试助手（指数退避）。
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy 描述一次重试策略：最多尝试次数、首次退避时长与退避倍率。
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Do 按策略执行 op，直到成功、尝试次数耗尽或 ctx 被取消。
// 返回的错误包装了最后一次失败原因。
func Do(ctx context.Context, p Policy, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * multiplier)
	}
	return fmt.Errorf("重试 %d 次后仍然失败: %w", attempts, lastErr)
}
