// =============================================================================
// 文件: internal/transfer/timers.go
// 描述: 定时器表 - 每个块最多一个活动定时器 (确认超时 / 重发延迟 / 驱逐)
// =============================================================================
package transfer

import (
	"sync"
	"time"
)

// timerKind 定时器用途
type timerKind uint8

const (
	timerAck     timerKind = iota // 确认超时
	timerRetry                    // 重发延迟
	timerCleanup                  // 完成后驱逐
)

func (k timerKind) String() string {
	switch k {
	case timerAck:
		return "ack"
	case timerRetry:
		return "retry"
	case timerCleanup:
		return "cleanup"
	}
	return "unknown"
}

// timerEvent 定时器到期事件，由会话循环统一处理
type timerEvent struct {
	id   string
	kind timerKind
	gen  uint64
}

type timerSlot struct {
	t    *time.Timer
	kind timerKind
	gen  uint64
}

// timerTable 定时器表
// 回调只投递事件，不触碰块状态；状态修改全部发生在会话循环内。
// gen 用于识别已取消或已被替换的定时器投递的过期事件。
type timerTable struct {
	events chan timerEvent
	stop   chan struct{}
	once   sync.Once

	slots map[string]timerSlot
	gen   uint64
}

func newTimerTable(buffer int) *timerTable {
	return &timerTable{
		events: make(chan timerEvent, buffer),
		stop:   make(chan struct{}),
		slots:  make(map[string]timerSlot),
	}
}

// arm 为块设置定时器，先停止已有的
func (tt *timerTable) arm(id string, kind timerKind, d time.Duration) {
	tt.cancel(id)

	tt.gen++
	ev := timerEvent{id: id, kind: kind, gen: tt.gen}
	t := time.AfterFunc(d, func() {
		select {
		case tt.events <- ev:
		case <-tt.stop:
		}
	})
	tt.slots[id] = timerSlot{t: t, kind: kind, gen: ev.gen}
}

// cancel 停止块的定时器
func (tt *timerTable) cancel(id string) (timerKind, bool) {
	slot, ok := tt.slots[id]
	if !ok {
		return 0, false
	}
	slot.t.Stop()
	delete(tt.slots, id)
	return slot.kind, true
}

// claim 确认事件对应当前活动的定时器，并释放该槽位
func (tt *timerTable) claim(ev timerEvent) bool {
	slot, ok := tt.slots[ev.id]
	if !ok || slot.gen != ev.gen || slot.kind != ev.kind {
		return false
	}
	delete(tt.slots, ev.id)
	return true
}

// active 指定用途的活动定时器数
func (tt *timerTable) active(kind timerKind) int {
	n := 0
	for _, slot := range tt.slots {
		if slot.kind == kind {
			n++
		}
	}
	return n
}

func (tt *timerTable) len() int {
	return len(tt.slots)
}

// stopAll 停止全部定时器并释放阻塞中的回调
func (tt *timerTable) stopAll() {
	for id, slot := range tt.slots {
		slot.t.Stop()
		delete(tt.slots, id)
	}
	tt.once.Do(func() { close(tt.stop) })
}
