// =============================================================================
// 文件: internal/protocol/protocol.go
// 描述: 分块文本协议 - 帧命令 (START/END)、数据块负载、确认通知
// =============================================================================

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// 帧命令
const (
	CommandStart = "START"
	CommandEnd   = "END"
)

// 错误定义
var (
	ErrMalformedCommand    = errors.New("命令格式错误")
	ErrMalformedPayload    = errors.New("负载格式错误")
	ErrUnknownNotification = errors.New("未知通知类型")
	ErrMissingChunkID      = errors.New("缺少 chunk_id")
)

// NotificationType 通知类型
type NotificationType string

const (
	NotificationAck   NotificationType = "ACK"
	NotificationError NotificationType = "ERROR"
)

// =============================================================================
// 数据块负载
// =============================================================================

// ChunkPayload 单个数据块的 JSON 负载
// speed_cps / interval_ms 只是对端的节奏提示，不影响协议正确性
type ChunkPayload struct {
	ChunkID    string `json:"chunk_id"`
	Sequence   int    `json:"sequence"`
	Text       string `json:"text"`
	Checksum   string `json:"checksum"`
	SpeedCPS   int    `json:"speed_cps"`
	IntervalMS int    `json:"interval_ms"`
}

// Encode 编码负载
func (p *ChunkPayload) Encode() ([]byte, error) {
	if p.ChunkID == "" {
		return nil, ErrMissingChunkID
	}
	return json.Marshal(p)
}

// DecodePayload 解码负载
func DecodePayload(data []byte) (*ChunkPayload, error) {
	var p ChunkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.ChunkID == "" {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, ErrMissingChunkID)
	}
	return &p, nil
}

// =============================================================================
// 通知
// =============================================================================

// Notification 对端回传的通知
type Notification struct {
	Type    NotificationType `json:"type"`
	ChunkID string           `json:"chunk_id"`
	Error   string           `json:"error,omitempty"`
}

// NewAck 构建确认通知
func NewAck(chunkID string) Notification {
	return Notification{Type: NotificationAck, ChunkID: chunkID}
}

// NewError 构建错误通知
func NewError(chunkID, reason string) Notification {
	return Notification{Type: NotificationError, ChunkID: chunkID, Error: reason}
}

// Encode 编码通知
func (n Notification) Encode() ([]byte, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(n)
}

func (n Notification) validate() error {
	switch n.Type {
	case NotificationAck, NotificationError:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNotification, n.Type)
	}
	if n.ChunkID == "" {
		return ErrMissingChunkID
	}
	return nil
}

// DecodeNotification 解码通知 (类型大小写不敏感)
func DecodeNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("解析通知失败: %w", err)
	}
	n.Type = NotificationType(strings.ToUpper(string(n.Type)))
	if err := n.validate(); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// =============================================================================
// 帧命令
// =============================================================================

// Command 解析后的帧命令
type Command struct {
	Name  string
	Total int // 仅 START 有效
}

// StartCommand 构建 START:<total>
func StartCommand(total int) string {
	return CommandStart + ":" + strconv.Itoa(total)
}

// EndCommand 构建 END
func EndCommand() string {
	return CommandEnd
}

// ParseCommand 解析帧命令
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	if s == CommandEnd {
		return Command{Name: CommandEnd}, nil
	}

	name, arg, ok := strings.Cut(s, ":")
	if !ok || name != CommandStart {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformedCommand, s)
	}
	total, err := strconv.Atoi(arg)
	if err != nil || total < 0 {
		return Command{}, fmt.Errorf("%w: 无效的块总数 %q", ErrMalformedCommand, arg)
	}
	return Command{Name: CommandStart, Total: total}, nil
}

// =============================================================================
// 帧解码 (对端使用)
// =============================================================================

// Frame 发送方写出的一帧: 命令或数据块负载，二者取一
type Frame struct {
	Command *Command
	Payload *ChunkPayload
}

// DecodeFrame 以首字节区分 JSON 负载与文本命令
func DecodeFrame(data []byte) (Frame, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		p, err := DecodePayload([]byte(trimmed))
		if err != nil {
			return Frame{}, err
		}
		return Frame{Payload: p}, nil
	}

	cmd, err := ParseCommand(trimmed)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Command: &cmd}, nil
}
