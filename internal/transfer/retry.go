// =============================================================================
// 文件: internal/transfer/retry.go
// 描述: 重试策略 - 固定延迟 (非指数退避)，次数有上限
// =============================================================================
package transfer

import (
	"time"

	"github.com/mrcgq/chunklink/internal/chunk"
)

// RetryPolicy 重试策略
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// Next 返回重新排队前的等待时间；ok=false 表示重试已耗尽
func (p RetryPolicy) Next(c chunk.Chunk) (delay time.Duration, ok bool) {
	if c.RetryCount >= p.MaxRetries {
		return 0, false
	}
	return p.Delay, true
}
