// =============================================================================
// 文件: internal/transport/adapter.go
// 描述: 传输适配器接口 - 会话只通过这三个原语访问底层链路
// =============================================================================
package transport

import (
	"context"
	"errors"

	logging "github.com/ipfs/go-log/v2"

	"github.com/mrcgq/chunklink/internal/protocol"
)

var log = logging.Logger("transport")

// 错误定义
var (
	ErrClosed       = errors.New("传输已关闭")
	ErrNotConnected = errors.New("传输未连接")
)

// Adapter 传输适配器
type Adapter interface {
	// SendCommand 发送帧命令 (START:<n> / END)
	SendCommand(ctx context.Context, command string) error

	// SendJSON 发送单个数据块负载
	SendJSON(ctx context.Context, payload *protocol.ChunkPayload) error

	// CheckNotifications 取走自上次调用以来收到的通知，不阻塞
	CheckNotifications(ctx context.Context) ([]protocol.Notification, error)
}

// LinkStats 发送端链路统计
type LinkStats struct {
	FramesSent    uint64
	Notifications uint64
	Dropped       uint64 // 链路丢失或收件箱溢出丢弃
	Queued        int    // 已收到未取走的通知
}
