// =============================================================================
// 文件: internal/chunk/chunk_test.go
// 描述: 状态机与存储测试
// =============================================================================
package chunk

import (
	"errors"
	"testing"
	"time"
)

func TestTransitionHappyPath(t *testing.T) {
	now := time.Now()
	c := Chunk{ID: "a", Status: StatusPending}

	c, err := Transition(c, EventSend, 3, now)
	if err != nil {
		t.Fatalf("send 失败: %v", err)
	}
	if c.Status != StatusSending || !c.SentAt.Equal(now) {
		t.Errorf("send 后状态错误: %s sentAt=%v", c.Status, c.SentAt)
	}

	done := now.Add(40 * time.Millisecond)
	c, err = Transition(c, EventAck, 3, done)
	if err != nil {
		t.Fatalf("ack 失败: %v", err)
	}
	if c.Status != StatusCompleted {
		t.Errorf("ack 后状态 = %s, want completed", c.Status)
	}
	if c.Latency() != 40*time.Millisecond {
		t.Errorf("Latency = %v, want 40ms", c.Latency())
	}
}

func TestTransitionRetryBounded(t *testing.T) {
	const maxRetries = 3
	now := time.Now()
	c := Chunk{ID: "b", Status: StatusPending}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		var err error
		if c, err = Transition(c, EventSend, maxRetries, now); err != nil {
			t.Fatalf("第 %d 次 send 失败: %v", attempt, err)
		}
		if c, err = Transition(c, EventTimeout, maxRetries, now); err != nil {
			t.Fatalf("第 %d 次 timeout 失败: %v", attempt, err)
		}
		if attempt == maxRetries {
			break
		}
		if c, err = Transition(c, EventRetry, maxRetries, now); err != nil {
			t.Fatalf("第 %d 次 retry 失败: %v", attempt, err)
		}
	}

	if c.RetryCount != maxRetries {
		t.Fatalf("RetryCount = %d, want %d", c.RetryCount, maxRetries)
	}

	if _, err := Transition(c, EventRetry, maxRetries, now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("超过上限的 retry 应被拒绝, got %v", err)
	}

	c, err := Transition(c, EventGiveUp, maxRetries, now)
	if err != nil {
		t.Fatalf("give up 失败: %v", err)
	}
	if c.Status != StatusFailed {
		t.Errorf("状态 = %s, want failed", c.Status)
	}

	// failed 为终态
	for _, ev := range []Event{EventSend, EventAck, EventTimeout, EventRetry, EventGiveUp} {
		if _, err := Transition(c, ev, maxRetries, now); err == nil {
			t.Errorf("failed 状态不应接受 %s", ev)
		}
	}
}

func TestTransitionRejects(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		status Status
		retry  int
		ev     Event
	}{
		{"pending 不能 ack", StatusPending, 0, EventAck},
		{"pending 不能 timeout", StatusPending, 0, EventTimeout},
		{"completed 不能 timeout", StatusCompleted, 0, EventTimeout},
		{"completed 不能再次 send", StatusCompleted, 0, EventSend},
		{"sending 不能 retry", StatusSending, 0, EventRetry},
		{"未耗尽不能 give up", StatusTimeout, 1, EventGiveUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Chunk{ID: "x", Status: tt.status, RetryCount: tt.retry}
			got, err := Transition(c, tt.ev, 3, now)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("期望 ErrInvalidTransition, got %v", err)
			}
			if got.Status != tt.status {
				t.Errorf("拒绝后状态被修改: %s", got.Status)
			}
		})
	}
}

func TestTransitionLateAck(t *testing.T) {
	c := Chunk{ID: "late", Status: StatusTimeout, RetryCount: 1}
	c, err := Transition(c, EventAck, 3, time.Now())
	if err != nil {
		t.Fatalf("迟到的 ack 应被接受: %v", err)
	}
	if c.Status != StatusCompleted {
		t.Errorf("状态 = %s, want completed", c.Status)
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusSending, false},
		{StatusTimeout, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestStoreApplyAndEvict(t *testing.T) {
	s := NewStore(3)
	chunks, err := Split("hello world", 4)
	if err != nil {
		t.Fatalf("Split 失败: %v", err)
	}
	for _, c := range chunks {
		if err := s.Put(c); err != nil {
			t.Fatalf("Put 失败: %v", err)
		}
	}
	if err := s.Put(chunks[0]); err == nil {
		t.Error("重复 ID 应被拒绝")
	}

	id := chunks[1].ID
	if _, err := s.Apply(id, EventSend, time.Now()); err != nil {
		t.Fatalf("Apply send 失败: %v", err)
	}
	if _, err := s.Apply(id, EventAck, time.Now()); err != nil {
		t.Fatalf("Apply ack 失败: %v", err)
	}

	n := s.Counts()
	if n.Completed != 1 || n.Pending != 2 || n.Sent != 1 || n.Unsettled != 2 {
		t.Errorf("Counts 错误: %+v", n)
	}

	if _, ok := s.Delete(id); !ok {
		t.Fatal("Delete 应成功")
	}
	if _, ok := s.Get(id); ok {
		t.Error("驱逐后仍能获取")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	if _, err := s.Apply(id, EventAck, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("驱逐后 Apply 应返回 ErrNotFound, got %v", err)
	}

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Sequence != 0 || snap[1].Sequence != 2 {
		t.Errorf("Snapshot 顺序错误: %+v", snap)
	}
}
