package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mrcgq/chunklink/internal/protocol"
)

func TestSimLinkLatency(t *testing.T) {
	l := NewSimLink(SimConfig{Latency: 20 * time.Millisecond, Seed: 1})
	ctx := context.Background()

	if err := l.SendJSON(ctx, payloadFor("a", "abc", 0)); err != nil {
		t.Fatal(err)
	}

	notes, _ := l.CheckNotifications(ctx)
	if len(notes) != 0 {
		t.Fatalf("延迟到期前不应交付: %+v", notes)
	}

	time.Sleep(30 * time.Millisecond)
	notes, _ = l.CheckNotifications(ctx)
	if len(notes) != 1 || notes[0].Type != protocol.NotificationAck || notes[0].ChunkID != "a" {
		t.Fatalf("应交付一个 ACK: %+v", notes)
	}

	if st := l.Stats(); st.FramesSent != 1 || st.Notifications != 1 || st.Queued != 0 {
		t.Errorf("统计错误: %+v", st)
	}
}

func TestSimLinkDropRateDeterministic(t *testing.T) {
	run := func() []int {
		l := NewSimLink(SimConfig{DropRate: 0.5, Seed: 42})
		for i := 0; i < 50; i++ {
			l.SendJSON(context.Background(), payloadFor("id", "t", i))
		}
		notes, _ := l.CheckNotifications(context.Background())
		st := l.Stats()
		return []int{len(notes), int(st.Dropped)}
	}

	a, b := run(), run()
	if a[0] != b[0] || a[1] != b[1] {
		t.Errorf("相同种子结果应一致: %v vs %v", a, b)
	}
	if a[0]+a[1] != 50 {
		t.Errorf("交付 + 丢弃 = %d, want 50", a[0]+a[1])
	}
	if a[1] == 0 || a[0] == 0 {
		t.Errorf("丢包率 0.5 时两者都应非零: %v", a)
	}
}

func TestSimLinkChecksum(t *testing.T) {
	l := NewSimLink(SimConfig{VerifyChecksum: true, Seed: 1})
	p := payloadFor("c", "original", 0)
	p.Text = "changed"
	l.SendJSON(context.Background(), p)

	notes, _ := l.CheckNotifications(context.Background())
	if len(notes) != 1 || notes[0].Type != protocol.NotificationError {
		t.Errorf("校验失败应回 ERROR: %+v", notes)
	}
}

func TestSimLinkClosed(t *testing.T) {
	l := NewSimLink(SimConfig{})
	l.Close()

	if err := l.SendCommand(context.Background(), "START:1"); !errors.Is(err, ErrClosed) {
		t.Errorf("SendCommand err = %v, want ErrClosed", err)
	}
	if _, err := l.CheckNotifications(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("CheckNotifications err = %v, want ErrClosed", err)
	}
}

func TestPacedLimitsRate(t *testing.T) {
	l := NewSimLink(SimConfig{Seed: 1})
	if got := NewPaced(l, 0, 1); got != Adapter(l) {
		t.Error("perSecond<=0 时应原样返回")
	}

	p := NewPaced(l, 100, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 6; i++ {
		if err := p.SendJSON(ctx, payloadFor("p", "p", i)); err != nil {
			t.Fatal(err)
		}
	}
	// 首个令牌立即可用，其余 5 个间隔 10ms
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("节流无效, 耗时 %v", elapsed)
	}
	if len(l.Sent()) != 6 {
		t.Errorf("Sent = %d, want 6", len(l.Sent()))
	}
}

func TestPacedHonoursContext(t *testing.T) {
	p := NewPaced(NewSimLink(SimConfig{}), 0.5, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := p.SendCommand(ctx, "START:1"); err != nil {
		t.Fatalf("首个令牌应立即可用: %v", err)
	}
	if err := p.SendCommand(ctx, "END"); err == nil {
		t.Error("令牌不足且 ctx 将超时时应返回错误")
	}
}
