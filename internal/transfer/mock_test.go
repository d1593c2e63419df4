// =============================================================================
// 文件: internal/transfer/mock_test.go
// 描述: 测试用脚本化传输适配器
// =============================================================================
package transfer

import (
	"context"
	"sync"

	"github.com/mrcgq/chunklink/internal/protocol"
)

// reply 对某次发送的处理方式
type reply int

const (
	replyAck   reply = iota // 下次轮询时确认
	replyDrop               // 不回应 (模拟超时)
	replyError              // 回传 ERROR
)

// MockLink 模拟传输层，记录全部发送并按脚本回应
type MockLink struct {
	mu sync.Mutex

	commands []string
	sends    []protocol.ChunkPayload
	attempts map[int]int // sequence -> 已发送次数
	inbox    []protocol.Notification

	// script 决定第 attempt 次 (从 1 开始) 发送 sequence 时的回应
	script func(seq, attempt int) reply
	// sendErr 非 nil 时可让发送直接失败
	sendErr func(seq, attempt int) error
	// pollErr 非 nil 时可让第 poll 次 (从 1 开始) 轮询失败，通知保留到下次
	pollErr func(poll int) error
	polls   int
	// ackDelayPolls 确认在多少次轮询后才交付
	ackDelayPolls int
	delayed       []delayedNote

	// 未被确认的发送数的峰值
	outstanding    int
	maxOutstanding int
}

type delayedNote struct {
	polls int
	n     protocol.Notification
}

// NewMockLink 创建模拟链路，默认全部确认
func NewMockLink() *MockLink {
	return &MockLink{
		attempts: make(map[int]int),
		script:   func(int, int) reply { return replyAck },
	}
}

func (m *MockLink) SendCommand(ctx context.Context, command string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, command)
	return nil
}

func (m *MockLink) SendJSON(ctx context.Context, p *protocol.ChunkPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts[p.Sequence]++
	attempt := m.attempts[p.Sequence]
	m.sends = append(m.sends, *p)

	if m.sendErr != nil {
		if err := m.sendErr(p.Sequence, attempt); err != nil {
			return err
		}
	}

	var n protocol.Notification
	switch m.script(p.Sequence, attempt) {
	case replyDrop:
		return nil
	case replyError:
		n = protocol.NewError(p.ChunkID, "injected")
	default:
		n = protocol.NewAck(p.ChunkID)
		m.outstanding++
		if m.outstanding > m.maxOutstanding {
			m.maxOutstanding = m.outstanding
		}
	}

	if m.ackDelayPolls > 0 {
		m.delayed = append(m.delayed, delayedNote{polls: m.ackDelayPolls, n: n})
	} else {
		m.inbox = append(m.inbox, n)
	}
	return nil
}

func (m *MockLink) CheckNotifications(ctx context.Context) ([]protocol.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.polls++
	if m.pollErr != nil {
		if err := m.pollErr(m.polls); err != nil {
			return nil, err
		}
	}

	rest := m.delayed[:0]
	for _, d := range m.delayed {
		d.polls--
		if d.polls <= 0 {
			m.inbox = append(m.inbox, d.n)
		} else {
			rest = append(rest, d)
		}
	}
	m.delayed = rest

	out := m.inbox
	m.inbox = nil
	for _, n := range out {
		if n.Type == protocol.NotificationAck {
			m.outstanding--
		}
	}
	return out, nil
}

// Inject 直接注入一条通知
func (m *MockLink) Inject(n protocol.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = append(m.inbox, n)
}

func (m *MockLink) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func (m *MockLink) Sends() []protocol.ChunkPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.ChunkPayload(nil), m.sends...)
}

func (m *MockLink) Attempts(seq int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[seq]
}

func (m *MockLink) MaxOutstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOutstanding
}
