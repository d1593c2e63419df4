// =============================================================================
// 文件: internal/transfer/session.go
// 描述: 分块传输会话 - 窗口周期、确认/超时、重试、驱逐与进度上报
// =============================================================================
package transfer

import (
	"context"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/mrcgq/chunklink/internal/chunk"
	"github.com/mrcgq/chunklink/internal/protocol"
	"github.com/mrcgq/chunklink/internal/transport"
)

var log = logging.Logger("transfer")

// 失败原因
const (
	causeTimeout   = "ack timeout"
	causeSendError = "send error"
)

// Preprocessor 发送前的文本转写 (不修改存储中的原文与校验和)
type Preprocessor interface {
	DetectsNonLatinScript(text string) bool
	Transliterate(text string) string
}

// Option 会话选项
type Option func(*Session)

// WithPreprocessor 设置文本转写
func WithPreprocessor(p Preprocessor) Option {
	return func(s *Session) { s.prep = p }
}

// WithProgress 设置进度回调
func WithProgress(fn ProgressFunc) Option {
	return func(s *Session) { s.progress = fn }
}

// WithObserver 添加观察者
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

// Session 传输会话
// 每次 Run 拥有独立的存储与定时器表，开始时创建，结束时拆除。
type Session struct {
	cfg       Config
	adapter   transport.Adapter
	prep      Preprocessor
	progress  ProgressFunc
	observers []Observer
}

// Result 传输结果
// 部分块失败仍是成功完成，Degraded 报告降级。
type Result struct {
	Stats   Stats
	Failed  []chunk.Chunk // 保留用于诊断
	Chunks  []chunk.Chunk // 仅取消时: 存储的部分状态快照
	Elapsed time.Duration
	EndErr  error // END 帧发送失败
}

// Degraded 是否有块最终失败
func (r *Result) Degraded() bool {
	return r.Stats.Failed > 0
}

// NewSession 创建会话，配置错误立即返回
func NewSession(cfg Config, adapter transport.Adapter, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: 缺少传输适配器", ErrInvalidConfig)
	}

	s := &Session{cfg: cfg, adapter: adapter}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run 传输文本，直到没有块处于待发、在途或等待重发
func (s *Session) Run(ctx context.Context, text string) (*Result, error) {
	chunks, err := chunk.Split(text, s.cfg.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	r := newRun(s, chunks)
	defer r.teardown()

	if err := s.adapter.SendCommand(ctx, protocol.StartCommand(len(chunks))); err != nil {
		return nil, fmt.Errorf("发送 START 失败: %w", err)
	}
	log.Infof("开始传输: %d 字符, %d 块, 窗口 %d", len([]rune(text)), len(chunks), s.cfg.WindowSize)

	for {
		if err := ctx.Err(); err != nil {
			return r.abort(), fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		r.cycle(ctx)
		if r.finished() {
			break
		}
		if err := r.wait(ctx); err != nil {
			return r.abort(), fmt.Errorf("%w: %v", ErrCancelled, err)
		}
	}

	res := r.result()
	if err := s.adapter.SendCommand(ctx, protocol.EndCommand()); err != nil {
		log.Warnf("发送 END 失败: %v", err)
		res.EndErr = err
	}

	log.Infof("传输完成: %s, 耗时 %v", res.Stats, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

// =============================================================================
// 单次传输的可变状态
// =============================================================================

type run struct {
	s       *Session
	cfg     Config
	total   int
	store   *chunk.Store
	window  *window
	timers  *timerTable
	retry   RetryPolicy
	guard   *ackGuard
	evicted evictionLedger
	quality linkQuality

	duplicateAcks int
	unknownAcks   int
	linkErr       error // 最近一次轮询的链路错误
	started       time.Time
}

func newRun(s *Session, chunks []chunk.Chunk) *run {
	store := chunk.NewStore(s.cfg.MaxRetries)
	for _, c := range chunks {
		// Split 生成的 ID 唯一
		_ = store.Put(c)
	}

	return &run{
		s:      s,
		cfg:    s.cfg,
		total:  len(chunks),
		store:  store,
		window: newWindow(s.cfg.WindowSize, chunks),
		timers: newTimerTable(4*s.cfg.WindowSize + 16),
		retry: RetryPolicy{
			MaxRetries: s.cfg.MaxRetries,
			Delay:      s.cfg.RetryDelay,
		},
		guard:   newAckGuard(len(chunks)),
		started: time.Now(),
	}
}

// cycle 一个窗口周期: 准入、轮询、处理定时器、上报
func (r *run) cycle(ctx context.Context) Stats {
	// 上次等待期间超时或重新排队的块先释放槽位
	r.window.prune(r.store)
	r.admit(ctx)
	r.poll(ctx)
	r.drainTimers()
	r.window.prune(r.store)
	return r.report()
}

// admit 窗口未满且仍有待发块时，按队列顺序准入并发送
func (r *run) admit(ctx context.Context) {
	for r.window.hasRoom() && ctx.Err() == nil {
		id, ok := r.window.next()
		if !ok {
			return
		}
		r.send(ctx, id)
	}
}

// send pending -> sending，发出负载并设置确认超时
func (r *run) send(ctx context.Context, id string) {
	c, err := r.store.Apply(id, chunk.EventSend, time.Now())
	if err != nil {
		log.Warnf("跳过无法发送的块: %v", err)
		return
	}
	r.window.admit(id)

	if err := r.s.adapter.SendJSON(ctx, r.payload(c)); err != nil {
		log.Warnf("块 #%d 发送失败: %v", c.Sequence, err)
		r.fail(id, causeSendError+": "+err.Error())
		return
	}

	r.timers.arm(id, timerAck, r.cfg.AckTimeout)
	log.Debugf("块 #%d 已发送 (第 %d 次)", c.Sequence, c.RetryCount+1)
}

// payload 构建负载，转写只作用于发送副本
func (r *run) payload(c chunk.Chunk) *protocol.ChunkPayload {
	text := c.Text
	if p := r.s.prep; p != nil && p.DetectsNonLatinScript(text) {
		text = p.Transliterate(text)
	}
	return &protocol.ChunkPayload{
		ChunkID:    c.ID,
		Sequence:   c.Sequence,
		Text:       text,
		Checksum:   c.Checksum,
		SpeedCPS:   r.cfg.SpeedCPS,
		IntervalMS: r.cfg.IntervalMS,
	}
}

// poll 读取通知并应用 ACK / ERROR
func (r *run) poll(ctx context.Context) {
	notes, err := r.s.adapter.CheckNotifications(ctx)
	r.linkState(err)
	for _, n := range notes {
		switch n.Type {
		case protocol.NotificationAck:
			r.ack(n.ChunkID)
		case protocol.NotificationError:
			r.nack(n.ChunkID, n.Error)
		}
	}
}

// linkState 链路出错或恢复时通知观察者，持续出错不重复通知
func (r *run) linkState(err error) {
	if (err == nil) == (r.linkErr == nil) {
		if err != nil {
			log.Debugf("读取通知仍失败: %v", err)
		}
		r.linkErr = err
		return
	}
	r.linkErr = err
	if err != nil {
		log.Warnf("读取通知失败: %v", err)
	} else {
		log.Infof("链路已恢复")
	}
	for _, o := range r.s.observers {
		if lo, ok := o.(LinkObserver); ok {
			lo.LinkError(err)
		}
	}
}

// ack 先取消定时器，再应用转换
func (r *run) ack(id string) {
	c, ok := r.store.Get(id)
	if !ok {
		if r.guard.wasEvicted(id) {
			r.duplicateAcks++
			log.Debugf("已驱逐块的重复确认: %s", id)
		} else {
			r.unknownAcks++
			log.Warnf("未知块的确认: %s", id)
		}
		return
	}

	switch c.Status {
	case chunk.StatusSending, chunk.StatusTimeout:
	case chunk.StatusCompleted:
		r.duplicateAcks++
		return
	default:
		log.Debugf("忽略块 #%d 在 %s 状态下的确认", c.Sequence, c.Status)
		return
	}

	r.timers.cancel(id)
	c, err := r.store.Apply(id, chunk.EventAck, time.Now())
	if err != nil {
		log.Warnf("确认转换失败: %v", err)
		return
	}

	r.timers.arm(id, timerCleanup, r.cfg.CleanupDelay)
	r.quality.onAck(c.Latency())
	log.Debugf("块 #%d 已确认, 延迟 %v", c.Sequence, c.Latency())
	for _, o := range r.s.observers {
		o.ChunkCompleted(c)
	}
}

// nack 错误通知与超时同路径处理
func (r *run) nack(id, reason string) {
	c, ok := r.store.Get(id)
	if !ok || c.Status != chunk.StatusSending {
		log.Debugf("忽略过期的错误通知: %s (%s)", id, reason)
		return
	}
	log.Warnf("块 #%d 对端报错: %s", c.Sequence, reason)
	r.fail(id, "peer error: "+reason)
}

// fail sending -> timeout，然后按重试策略重新排队或放弃
func (r *run) fail(id, cause string) {
	r.timers.cancel(id)

	now := time.Now()
	c, err := r.store.Apply(id, chunk.EventTimeout, now)
	if err != nil {
		log.Debugf("忽略失败事件: %v", err)
		return
	}
	r.store.SetError(id, cause)
	r.quality.onLoss()

	if delay, ok := r.retry.Next(c); ok {
		r.timers.arm(id, timerRetry, delay)
		log.Warnf("块 #%d %s, %v 后重发 (%d/%d)", c.Sequence, cause, delay, c.RetryCount+1, r.cfg.MaxRetries)
		return
	}

	c, err = r.store.Apply(id, chunk.EventGiveUp, now)
	if err != nil {
		log.Errorf("放弃转换失败: %v", err)
		return
	}
	log.Errorf("块 #%d 重试耗尽, 最终失败: %s", c.Sequence, cause)
	for _, o := range r.s.observers {
		o.ChunkFailed(c)
	}
}

// requeue timeout -> pending，追加到待发队列尾
func (r *run) requeue(id string) {
	c, err := r.store.Apply(id, chunk.EventRetry, time.Now())
	if err != nil {
		log.Debugf("忽略重发: %v", err)
		return
	}
	r.window.requeue(id)
	for _, o := range r.s.observers {
		o.ChunkRetried(c)
	}
}

// evict 驱逐已完成的块
func (r *run) evict(id string) {
	c, ok := r.store.Delete(id)
	if !ok {
		return
	}
	r.evicted.record(c)
	r.guard.markEvicted(id)
	log.Debugf("块 #%d 已驱逐, 存储剩余 %d", c.Sequence, r.store.Len())
}

// handleTimer 处理定时器事件，过期事件直接丢弃
func (r *run) handleTimer(ev timerEvent) {
	if !r.timers.claim(ev) {
		return
	}
	switch ev.kind {
	case timerAck:
		r.fail(ev.id, causeTimeout)
	case timerRetry:
		r.requeue(ev.id)
	case timerCleanup:
		r.evict(ev.id)
	}
}

// drainTimers 非阻塞处理已到期事件
func (r *run) drainTimers() {
	for {
		select {
		case ev := <-r.timers.events:
			r.handleTimer(ev)
		default:
			return
		}
	}
}

// wait 周期间隔，期间继续处理定时器事件
func (r *run) wait(ctx context.Context) error {
	pause := time.NewTimer(r.cfg.PollInterval)
	defer pause.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.timers.events:
			r.handleTimer(ev)
		case <-pause.C:
			return nil
		}
	}
}

// finished 没有块处于待发、在途或等待重发
func (r *run) finished() bool {
	return r.store.Counts().Unsettled == 0
}

func (r *run) stats() Stats {
	st := deriveStats(r.total, r.store.Counts(), r.evicted, r.store.Len())
	st.DuplicateAcks = r.duplicateAcks
	st.UnknownAcks = r.unknownAcks
	st.Elapsed = time.Since(r.started)
	r.quality.apply(&st)
	return st
}

// report 每周期上报一次，只读
func (r *run) report() Stats {
	st := r.stats()
	log.Debugf("进度: %s", st)
	if r.s.progress != nil {
		r.s.progress(st)
	}
	for _, o := range r.s.observers {
		o.Report(st)
	}
	return st
}

func (r *run) result() *Result {
	st := r.stats()
	return &Result{
		Stats: st,
		Failed: r.store.Filter(func(c chunk.Chunk) bool {
			return c.Status == chunk.StatusFailed
		}),
		Elapsed: st.Elapsed,
	}
}

// abort 取消: 停止准入与全部定时器，保留存储快照
func (r *run) abort() *Result {
	r.timers.stopAll()
	res := r.result()
	res.Chunks = r.store.Snapshot()
	log.Warnf("传输已取消: %s", res.Stats)
	return res
}

// teardown 释放本次传输的全部状态
func (r *run) teardown() {
	r.timers.stopAll()
	r.store.Reset()
}
