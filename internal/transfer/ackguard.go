// =============================================================================
// 文件: internal/transfer/ackguard.go
// 描述: 重复确认识别 - 布隆过滤器记录已驱逐的块 ID
// =============================================================================
package transfer

import (
	"github.com/bits-and-blooms/bloom/v3"
)

const ackGuardFalsePositive = 0.001

// ackGuard 区分重复确认与未知确认
// 块驱逐后记录已不在存储中，过滤器只影响分类与日志，不影响状态。
type ackGuard struct {
	filter *bloom.BloomFilter
}

func newAckGuard(expected int) *ackGuard {
	if expected < 64 {
		expected = 64
	}
	return &ackGuard{
		filter: bloom.NewWithEstimates(uint(expected), ackGuardFalsePositive),
	}
}

// markEvicted 记录已驱逐的块
func (g *ackGuard) markEvicted(id string) {
	g.filter.AddString(id)
}

// wasEvicted 可能误报，不会漏报
func (g *ackGuard) wasEvicted(id string) bool {
	return g.filter.TestString(id)
}
