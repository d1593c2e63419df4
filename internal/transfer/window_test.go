// =============================================================================
// 文件: internal/transfer/window_test.go
// 描述: 窗口、定时器表、重试策略与重复确认过滤器测试
// =============================================================================
package transfer

import (
	"testing"
	"time"

	"github.com/mrcgq/chunklink/internal/chunk"
)

func TestWindowAdmitAndPrune(t *testing.T) {
	chunks, err := chunk.Split("abcdef", 1)
	if err != nil {
		t.Fatal(err)
	}
	store := chunk.NewStore(3)
	for _, c := range chunks {
		if err := store.Put(c); err != nil {
			t.Fatal(err)
		}
	}

	w := newWindow(2, chunks)
	now := time.Now()
	for w.hasRoom() {
		id, ok := w.next()
		if !ok {
			t.Fatal("队列不应为空")
		}
		if _, err := store.Apply(id, chunk.EventSend, now); err != nil {
			t.Fatal(err)
		}
		w.admit(id)
	}

	if w.inFlight() != 2 || w.queued() != 4 {
		t.Fatalf("inFlight=%d queued=%d, want 2/4", w.inFlight(), w.queued())
	}

	store.Apply(chunks[0].ID, chunk.EventAck, now)
	if removed := w.prune(store); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if !w.hasRoom() {
		t.Error("确认后应释放槽位")
	}

	w.requeue(chunks[1].ID)
	var last string
	for {
		id, ok := w.next()
		if !ok {
			break
		}
		last = id
	}
	if last != chunks[1].ID {
		t.Error("重试块应排在队尾")
	}
}

func TestWindowAdmitIdempotent(t *testing.T) {
	w := newWindow(3, nil)
	w.admit("a")
	w.admit("a")
	w.admit("b")

	if w.inFlight() != 2 {
		t.Errorf("inFlight = %d, want 2", w.inFlight())
	}
	if !w.hasRoom() {
		t.Error("重复准入不应占用额外槽位")
	}
}

func TestTimerTableStaleEvent(t *testing.T) {
	tt := newTimerTable(4)
	defer tt.stopAll()

	tt.arm("a", timerAck, time.Hour)
	first := tt.slots["a"]

	// 重新设置后旧事件失效
	tt.arm("a", timerRetry, time.Hour)
	if tt.len() != 1 {
		t.Fatalf("每个块最多一个定时器, len = %d", tt.len())
	}
	if tt.claim(timerEvent{id: "a", kind: timerAck, gen: first.gen}) {
		t.Error("旧代次事件不应被认领")
	}

	cur := tt.slots["a"]
	if !tt.claim(timerEvent{id: "a", kind: timerRetry, gen: cur.gen}) {
		t.Error("当前事件应被认领")
	}
	if tt.len() != 0 {
		t.Error("认领后应释放槽位")
	}
}

func TestTimerTableFires(t *testing.T) {
	tt := newTimerTable(4)
	defer tt.stopAll()

	tt.arm("x", timerCleanup, 5*time.Millisecond)
	select {
	case ev := <-tt.events:
		if ev.id != "x" || ev.kind != timerCleanup {
			t.Errorf("事件错误: %+v", ev)
		}
		if !tt.claim(ev) {
			t.Error("应能认领")
		}
	case <-time.After(time.Second):
		t.Fatal("定时器未触发")
	}

	tt.arm("y", timerAck, 5*time.Millisecond)
	if kind, ok := tt.cancel("y"); !ok || kind != timerAck {
		t.Errorf("cancel = %v %v", kind, ok)
	}
	select {
	case ev := <-tt.events:
		t.Errorf("取消后不应收到事件: %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestRetryPolicyBound(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, Delay: time.Second}

	for n := 0; n < 3; n++ {
		d, ok := p.Next(chunk.Chunk{RetryCount: n})
		if !ok || d != time.Second {
			t.Errorf("RetryCount=%d: got %v %v", n, d, ok)
		}
	}
	if _, ok := p.Next(chunk.Chunk{RetryCount: 3}); ok {
		t.Error("重试耗尽后不应再重试")
	}
}

func TestAckGuard(t *testing.T) {
	g := newAckGuard(0)
	g.markEvicted("gone")

	if !g.wasEvicted("gone") {
		t.Error("已驱逐 ID 必须命中")
	}
	if g.wasEvicted("fresh-id") {
		t.Error("未记录的 ID 不应命中")
	}
}

func TestDeriveStats(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		counts  chunk.Counts
		evicted evictionLedger
		percent int
	}{
		{"空传输", 0, chunk.Counts{}, evictionLedger{}, 100},
		{"三分之一", 3, chunk.Counts{Completed: 1, Pending: 2, Sent: 1}, evictionLedger{}, 33},
		{"三分之二含驱逐", 3, chunk.Counts{Completed: 1, Pending: 1, Sent: 1}, evictionLedger{completed: 1}, 67},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := deriveStats(tt.total, tt.counts, tt.evicted, 0)
			if s.Percent != tt.percent {
				t.Errorf("Percent 不匹配: got %d, want %d", s.Percent, tt.percent)
			}
		})
	}
}

func TestLinkQuality(t *testing.T) {
	var q linkQuality

	q.onAck(100 * time.Millisecond)
	if q.smoothedRTT != 100*time.Millisecond || q.rttVariance != 50*time.Millisecond {
		t.Fatalf("首个采样: srtt=%v rttvar=%v", q.smoothedRTT, q.rttVariance)
	}

	q.onAck(20 * time.Millisecond)
	// SRTT = 7/8*100 + 1/8*20 = 90ms
	if q.smoothedRTT != 90*time.Millisecond {
		t.Errorf("SRTT 不匹配: got %v, want 90ms", q.smoothedRTT)
	}
	if q.minRTT != 20*time.Millisecond {
		t.Errorf("MinRTT 不匹配: got %v, want 20ms", q.minRTT)
	}

	q.onLoss()
	q.onLoss()
	if q.lossRate <= 0 || q.lossRate >= 1 {
		t.Errorf("LossRate 越界: %v", q.lossRate)
	}
	before := q.lossRate
	q.onAck(30 * time.Millisecond)
	if q.lossRate >= before {
		t.Error("确认后丢失率应下降")
	}

	var s Stats
	q.apply(&s)
	if s.SmoothedRTT != q.smoothedRTT || s.LossRate != q.lossRate {
		t.Errorf("apply 结果错误: %+v", s)
	}
}
