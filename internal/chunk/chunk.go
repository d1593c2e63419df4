// =============================================================================
// 文件: internal/chunk/chunk.go
// 描述: 分块传输 - 数据块类型与状态机 (唯一的状态转换入口)
// =============================================================================
package chunk

import (
	"errors"
	"fmt"
	"time"
)

// 错误定义
var (
	ErrInvalidChunkSize  = errors.New("分块大小必须为正数")
	ErrInvalidTransition = errors.New("无效的状态转换")
	ErrNotFound          = errors.New("数据块不存在")
)

// Status 数据块状态
type Status uint8

const (
	StatusPending Status = iota
	StatusSending
	StatusCompleted
	StatusTimeout
	StatusFailed
)

func (s Status) String() string {
	names := []string{"pending", "sending", "completed", "timeout", "failed"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Event 状态机事件
type Event uint8

const (
	EventSend    Event = iota // 窗口准入并发出
	EventAck                  // 收到匹配的确认
	EventTimeout              // 确认超时、错误通知或发送失败
	EventRetry                // 重发延迟到期，重新排队
	EventGiveUp               // 重试耗尽
)

func (e Event) String() string {
	names := []string{"send", "ack", "timeout", "retry", "give_up"}
	if int(e) < len(names) {
		return names[e]
	}
	return "unknown"
}

// Chunk 传输单元
type Chunk struct {
	ID          string
	Sequence    int
	Text        string
	Checksum    string
	RetryCount  int
	Status      Status
	SentAt      time.Time
	CompletedAt time.Time
	LastError   string
}

// Latency 从最后一次发送到确认的耗时
func (c Chunk) Latency() time.Duration {
	if c.SentAt.IsZero() || c.CompletedAt.IsZero() {
		return 0
	}
	return c.CompletedAt.Sub(c.SentAt)
}

// Transition 纯函数状态转换: (Chunk, Event) -> Chunk
//
// maxRetries 仅用于 EventRetry / EventGiveUp 的边界判断。
func Transition(c Chunk, ev Event, maxRetries int, now time.Time) (Chunk, error) {
	switch ev {
	case EventSend:
		if c.Status != StatusPending {
			break
		}
		c.Status = StatusSending
		c.SentAt = now
		c.LastError = ""
		return c, nil

	case EventAck:
		// timeout 状态下的迟到确认同样有效
		if c.Status != StatusSending && c.Status != StatusTimeout {
			break
		}
		c.Status = StatusCompleted
		c.CompletedAt = now
		return c, nil

	case EventTimeout:
		if c.Status != StatusSending {
			break
		}
		c.Status = StatusTimeout
		return c, nil

	case EventRetry:
		if c.Status != StatusTimeout || c.RetryCount >= maxRetries {
			break
		}
		c.RetryCount++
		c.Status = StatusPending
		return c, nil

	case EventGiveUp:
		if c.Status != StatusTimeout || c.RetryCount < maxRetries {
			break
		}
		c.Status = StatusFailed
		return c, nil
	}

	return c, fmt.Errorf("%w: %s --%s--> (chunk %s)", ErrInvalidTransition, c.Status, ev, c.ID)
}
