// =============================================================================
// 文件: internal/transfer/progress.go
// 描述: 进度统计 - 每个窗口周期从存储派生，不独立维护
// =============================================================================
package transfer

import (
	"fmt"
	"math"
	"time"

	"github.com/mrcgq/chunklink/internal/chunk"
)

// Stats 传输统计
type Stats struct {
	Total     int
	Sent      int
	Completed int
	Failed    int
	Retries   int
	Percent   int // round(completed / total * 100)

	InFlight  int
	Pending   int // 待发 + 等待重发
	StoreSize int // 当前存储块数

	DuplicateAcks int
	UnknownAcks   int
	Elapsed       time.Duration

	// 链路质量 (仅观测)
	SmoothedRTT time.Duration
	RTTVariance time.Duration
	MinRTT      time.Duration
	LossRate    float64 // 发送失败的 EWMA, [0,1]
}

func (s Stats) String() string {
	return fmt.Sprintf("%d/%d (%d%%) 在途 %d 失败 %d 重试 %d 存储 %d",
		s.Completed, s.Total, s.Percent, s.InFlight, s.Failed, s.Retries, s.StoreSize)
}

// Observer 会话观察者 (指标等)
type Observer interface {
	Report(Stats)
	ChunkCompleted(c chunk.Chunk)
	ChunkRetried(c chunk.Chunk)
	ChunkFailed(c chunk.Chunk)
}

// LinkObserver 可选的观察者扩展: 读取通知失败时收到错误，恢复时收到 nil
type LinkObserver interface {
	LinkError(err error)
}

// ProgressFunc 每周期一次的进度回调
type ProgressFunc func(Stats)

// evictionLedger 已驱逐块的汇总，驱逐后仍计入统计
type evictionLedger struct {
	completed int
	retries   int
}

func (l *evictionLedger) record(c chunk.Chunk) {
	if c.Status != chunk.StatusCompleted {
		return
	}
	l.completed++
	l.retries += c.RetryCount
}

// deriveStats 从存储计数与驱逐汇总派生统计
func deriveStats(total int, n chunk.Counts, evicted evictionLedger, storeSize int) Stats {
	s := Stats{
		Total:     total,
		Sent:      n.Sent + evicted.completed,
		Completed: n.Completed + evicted.completed,
		Failed:    n.Failed,
		Retries:   n.Retries + evicted.retries,
		InFlight:  n.Sending,
		Pending:   n.Pending + n.Timeout,
		StoreSize: storeSize,
	}
	if total == 0 {
		s.Percent = 100
	} else {
		s.Percent = int(math.Round(float64(s.Completed) * 100 / float64(total)))
	}
	return s
}
