// =============================================================================
// 文件: internal/chunk/store.go
// 描述: 数据块存储 - 单次传输会话持有的可变状态，所有状态转换经由 Apply
// =============================================================================
package chunk

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store 数据块存储
type Store struct {
	chunks     map[string]*Chunk
	maxRetries int

	mu sync.RWMutex
}

// Counts 按状态统计
type Counts struct {
	Pending   int
	Sending   int
	Completed int
	Timeout   int
	Failed    int
	Sent      int // 至少发出过一次的块
	Retries   int // RetryCount 之和
	Unsettled int // 未到终态的块
}

// NewStore 创建存储
func NewStore(maxRetries int) *Store {
	return &Store{
		chunks:     make(map[string]*Chunk),
		maxRetries: maxRetries,
	}
}

// Put 放入数据块 (ID 不可重复)
func (s *Store) Put(c Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chunks[c.ID]; exists {
		return fmt.Errorf("数据块 ID 重复: %s", c.ID)
	}
	cp := c
	s.chunks[c.ID] = &cp
	return nil
}

// Get 获取数据块副本
func (s *Store) Get(id string) (Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chunks[id]
	if !ok {
		return Chunk{}, false
	}
	return *c, true
}

// Apply 对数据块应用事件，返回转换后的副本
func (s *Store) Apply(id string, ev Event, now time.Time) (Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chunks[id]
	if !ok {
		return Chunk{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next, err := Transition(*c, ev, s.maxRetries, now)
	if err != nil {
		return *c, err
	}
	*c = next
	return next, nil
}

// SetError 记录最近一次失败原因
func (s *Store) SetError(id, cause string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.chunks[id]; ok {
		c.LastError = cause
	}
}

// Delete 驱逐数据块，释放其全部记录
func (s *Store) Delete(id string) (Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chunks[id]
	if !ok {
		return Chunk{}, false
	}
	delete(s.chunks, id)
	return *c, true
}

// Len 当前存储的块数 (内存压力的直接观测)
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Counts 统计各状态数量
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n Counts
	for _, c := range s.chunks {
		switch c.Status {
		case StatusPending:
			n.Pending++
		case StatusSending:
			n.Sending++
		case StatusCompleted:
			n.Completed++
		case StatusTimeout:
			n.Timeout++
		case StatusFailed:
			n.Failed++
		}
		if !c.Status.Terminal() {
			n.Unsettled++
		}
		if c.Status != StatusPending || c.RetryCount > 0 {
			n.Sent++
		}
		n.Retries += c.RetryCount
	}
	return n
}

// Snapshot 按 Sequence 排序的全部数据块副本
func (s *Store) Snapshot() []Chunk {
	return s.Filter(nil)
}

// Filter 按条件筛选，按 Sequence 排序
func (s *Store) Filter(keep func(Chunk) bool) []Chunk {
	s.mu.RLock()
	out := make([]Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if keep == nil || keep(*c) {
			out = append(out, *c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Reset 清空存储 (会话结束时的拆除)
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[string]*Chunk)
}
