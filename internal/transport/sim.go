// =============================================================================
// 文件: internal/transport/sim.go
// 描述: 内存模拟链路 - 可配置丢包率与确认延迟，用于演示与测试
// =============================================================================
package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/mrcgq/chunklink/internal/chunk"
	"github.com/mrcgq/chunklink/internal/protocol"
)

// SimConfig 模拟链路配置
type SimConfig struct {
	DropRate       float64       // 负载丢失比例 [0,1)
	Latency        time.Duration // 确认延迟
	VerifyChecksum bool
	Seed           int64
}

type scheduledNotification struct {
	at time.Time
	n  protocol.Notification
}

// SimLink 模拟链路
type SimLink struct {
	cfg SimConfig
	rng *rand.Rand

	mu       sync.Mutex
	queue    []scheduledNotification
	commands []string
	sent     []protocol.ChunkPayload
	closed   bool

	delivered uint64
	dropped   uint64
}

// NewSimLink 创建模拟链路
func NewSimLink(cfg SimConfig) *SimLink {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimLink{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// SendCommand 记录帧命令
func (l *SimLink) SendCommand(ctx context.Context, command string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.commands = append(l.commands, command)
	return nil
}

// SendJSON 记录负载，按丢包率决定是否安排确认
func (l *SimLink) SendJSON(ctx context.Context, payload *protocol.ChunkPayload) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.sent = append(l.sent, *payload)

	if l.cfg.DropRate > 0 && l.rng.Float64() < l.cfg.DropRate {
		log.Debugf("模拟丢包: seq=%d", payload.Sequence)
		l.dropped++
		return nil
	}

	n := protocol.NewAck(payload.ChunkID)
	if l.cfg.VerifyChecksum && chunk.Checksum(payload.Text) != payload.Checksum {
		n = protocol.NewError(payload.ChunkID, "checksum mismatch")
	}
	l.queue = append(l.queue, scheduledNotification{at: time.Now().Add(l.cfg.Latency), n: n})
	return nil
}

// CheckNotifications 交付已到期的通知
func (l *SimLink) CheckNotifications(ctx context.Context) ([]protocol.Notification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	now := time.Now()
	var due []protocol.Notification
	rest := l.queue[:0]
	for _, s := range l.queue {
		if !s.at.After(now) {
			due = append(due, s.n)
		} else {
			rest = append(rest, s)
		}
	}
	l.queue = rest
	l.delivered += uint64(len(due))
	return due, nil
}

// Commands 已发送的帧命令
func (l *SimLink) Commands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.commands...)
}

// Sent 已发送的负载 (含重发)
func (l *SimLink) Sent() []protocol.ChunkPayload {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.ChunkPayload(nil), l.sent...)
}

// Stats 统计
func (l *SimLink) Stats() LinkStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LinkStats{
		FramesSent:    uint64(len(l.commands) + len(l.sent)),
		Notifications: l.delivered,
		Dropped:       l.dropped,
		Queued:        len(l.queue),
	}
}

// Close 关闭链路
func (l *SimLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
