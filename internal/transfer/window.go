// =============================================================================
// 文件: internal/transfer/window.go
// 描述: 滑动窗口 - 待发队列 + 在途集合，限制并发未确认块数
// =============================================================================
package transfer

import (
	"github.com/mrcgq/chunklink/internal/chunk"
)

// window 滑动窗口
// 初始队列按 Sequence 升序；重试的块追加到队尾，不回插原位置。
type window struct {
	size     int
	queue    []string
	inflight []string
}

func newWindow(size int, chunks []chunk.Chunk) *window {
	queue := make([]string, len(chunks))
	for i, c := range chunks {
		queue[i] = c.ID
	}
	return &window{
		size:     size,
		queue:    queue,
		inflight: make([]string, 0, size),
	}
}

// hasRoom 窗口是否还能准入
func (w *window) hasRoom() bool {
	return len(w.inflight) < w.size
}

// next 取出下一个待发块
func (w *window) next() (string, bool) {
	if len(w.queue) == 0 {
		return "", false
	}
	id := w.queue[0]
	w.queue[0] = ""
	w.queue = w.queue[1:]
	return id, true
}

// admit 加入在途集合，已在途的块不重复占用槽位
func (w *window) admit(id string) {
	for _, cur := range w.inflight {
		if cur == id {
			return
		}
	}
	w.inflight = append(w.inflight, id)
}

// requeue 重试块追加到队尾
func (w *window) requeue(id string) {
	w.queue = append(w.queue, id)
}

// prune 移除不再处于 sending 的块 (completed / timeout / failed / 已驱逐)
// timeout 的块释放槽位，重试时作为新的准入重新进入窗口。
func (w *window) prune(store *chunk.Store) int {
	kept := w.inflight[:0]
	removed := 0
	for _, id := range w.inflight {
		if c, ok := store.Get(id); ok && c.Status == chunk.StatusSending {
			kept = append(kept, id)
			continue
		}
		removed++
	}
	for i := len(kept); i < len(w.inflight); i++ {
		w.inflight[i] = ""
	}
	w.inflight = kept
	return removed
}

func (w *window) inFlight() int {
	return len(w.inflight)
}

func (w *window) queued() int {
	return len(w.queue)
}
