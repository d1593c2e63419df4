// =============================================================================
// 文件: internal/transport/paced.go
// 描述: 发送节流 - 限制每秒写入链路的消息数，窄带链路避免缓冲拥塞
// =============================================================================
package transport

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/mrcgq/chunklink/internal/protocol"
)

// Paced 节流适配器
type Paced struct {
	next    Adapter
	limiter *rate.Limiter
}

// NewPaced 包装适配器; perSecond <= 0 时原样返回
func NewPaced(next Adapter, perSecond float64, burst int) Adapter {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Paced{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// SendCommand 等待令牌后发送命令
func (p *Paced) SendCommand(ctx context.Context, command string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("节流等待失败: %w", err)
	}
	return p.next.SendCommand(ctx, command)
}

// SendJSON 等待令牌后发送负载
func (p *Paced) SendJSON(ctx context.Context, payload *protocol.ChunkPayload) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("节流等待失败: %w", err)
	}
	return p.next.SendJSON(ctx, payload)
}

// CheckNotifications 通知读取不受节流
func (p *Paced) CheckNotifications(ctx context.Context) ([]protocol.Notification, error) {
	return p.next.CheckNotifications(ctx)
}
