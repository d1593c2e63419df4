// =============================================================================
// 文件: internal/transport/ws_adapter.go
// 描述: WebSocket 客户端适配器 - 文本帧承载命令与 JSON 负载，后台读取通知
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrcgq/chunklink/internal/protocol"
)

// WSOptions WebSocket 客户端参数
type WSOptions struct {
	WriteTimeout time.Duration
	MaxInbox     int // 未取走通知的上限，超出丢弃最旧的
}

// WSAdapter WebSocket 传输适配器
type WSAdapter struct {
	conn *websocket.Conn
	opts WSOptions

	writeMu sync.Mutex

	mu      sync.Mutex
	inbox   []protocol.Notification
	readErr error

	// 统计
	framesSent    uint64
	notifications uint64
	dropped       uint64

	closed int32
	wg     sync.WaitGroup
}

// DialWebSocket 连接对端
func DialWebSocket(ctx context.Context, url string, opts WSOptions) (*WSAdapter, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxInbox <= 0 {
		opts.MaxInbox = 4096
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", url, err)
	}

	a := &WSAdapter{
		conn: conn,
		opts: opts,
	}

	a.wg.Add(1)
	go a.readLoop()

	log.Infof("WebSocket 已连接: %s", url)
	return a, nil
}

// readLoop 读取循环
func (a *WSAdapter) readLoop() {
	defer a.wg.Done()

	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&a.closed) == 0 && err != io.EOF &&
				!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("WebSocket 读取错误: %v", err)
			}
			a.mu.Lock()
			a.readErr = fmt.Errorf("%w: %v", ErrNotConnected, err)
			a.mu.Unlock()
			return
		}

		n, err := protocol.DecodeNotification(data)
		if err != nil {
			log.Debugf("忽略无效通知: %v", err)
			continue
		}

		a.mu.Lock()
		if len(a.inbox) >= a.opts.MaxInbox {
			a.inbox = a.inbox[1:]
			a.dropped++
		}
		a.inbox = append(a.inbox, n)
		a.notifications++
		a.mu.Unlock()
	}
}

func (a *WSAdapter) write(ctx context.Context, data []byte) error {
	if atomic.LoadInt32(&a.closed) == 1 {
		return ErrClosed
	}

	deadline := time.Now().Add(a.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.conn.SetWriteDeadline(deadline)
	if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("WebSocket 写入失败: %w", err)
	}
	atomic.AddUint64(&a.framesSent, 1)
	return nil
}

// SendCommand 发送帧命令
func (a *WSAdapter) SendCommand(ctx context.Context, command string) error {
	return a.write(ctx, []byte(command))
}

// SendJSON 发送数据块负载
func (a *WSAdapter) SendJSON(ctx context.Context, payload *protocol.ChunkPayload) error {
	data, err := payload.Encode()
	if err != nil {
		return err
	}
	return a.write(ctx, data)
}

// CheckNotifications 取走已收到的通知
// 连接断开后，缓冲的通知仍会先被交付，之后才返回读取错误。
func (a *WSAdapter) CheckNotifications(ctx context.Context) ([]protocol.Notification, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.inbox) == 0 {
		return nil, a.readErr
	}
	out := a.inbox
	a.inbox = nil
	return out, nil
}

// Stats 统计
func (a *WSAdapter) Stats() LinkStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return LinkStats{
		FramesSent:    atomic.LoadUint64(&a.framesSent),
		Notifications: a.notifications,
		Dropped:       a.dropped,
		Queued:        len(a.inbox),
	}
}

// Close 关闭连接
func (a *WSAdapter) Close() error {
	if !atomic.CompareAndSwapInt32(&a.closed, 0, 1) {
		return nil
	}
	a.writeMu.Lock()
	a.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	a.writeMu.Unlock()

	err := a.conn.Close()
	a.wg.Wait()
	return err
}
