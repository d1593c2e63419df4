// =============================================================================
// 文件: internal/transport/websocket.go
// 描述: WebSocket 测试对端 - 接收数据块，校验后回传 ACK/ERROR，可按比例丢帧模拟有损链路
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrcgq/chunklink/internal/chunk"
	"github.com/mrcgq/chunklink/internal/protocol"
)

// PeerConfig 对端配置
type PeerConfig struct {
	Listen         string
	Path           string
	DropRate       float64 // 不回应的负载比例 [0,1)
	VerifyChecksum bool    // 发送方开启转写时必须关闭
	Seed           int64
}

// PeerStats 对端统计
type PeerStats struct {
	ActiveConns int64
	Transfers   uint64
	Frames      uint64
	Acks        uint64
	Errors      uint64
	Dropped     uint64
	Duplicates  uint64
}

// Peer WebSocket 测试对端
type Peer struct {
	cfg PeerConfig

	httpServer *http.Server
	upgrader   websocket.Upgrader
	conns      sync.Map // *websocket.Conn -> *peerSession
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	rngMu sync.Mutex
	rng   *rand.Rand

	// 统计
	activeConns int64
	transfers   uint64
	frames      uint64
	acks        uint64
	errors      uint64
	dropped     uint64
	duplicates  uint64
}

// peerSession 单个连接上的传输会话
type peerSession struct {
	conn     *websocket.Conn
	expected int
	seen     map[string]struct{}
	mu       sync.Mutex
}

// NewPeer 创建对端
func NewPeer(cfg PeerConfig) *Peer {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Peer{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		rng:    rand.New(rand.NewSource(seed)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler HTTP 处理器 (便于 httptest 挂载)
func (p *Peer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(p.cfg.Path, p.handleWebSocket)
	return mux
}

// Start 启动服务器
func (p *Peer) Start(ctx context.Context) error {
	p.httpServer = &http.Server{
		Addr:    p.cfg.Listen,
		Handler: p.Handler(),
	}

	errCh := make(chan error, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("对端 HTTP 服务器错误: %v", err)
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("对端启动失败: %w", err)
	case <-time.After(50 * time.Millisecond):
	}

	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.stopCh:
		}
	}()

	log.Infof("对端已启动: %s%s (丢帧率 %.2f)", p.cfg.Listen, p.cfg.Path, p.cfg.DropRate)
	return nil
}

// handleWebSocket 处理 WebSocket 连接
func (p *Peer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("WebSocket 升级失败: %v", err)
		return
	}

	atomic.AddInt64(&p.activeConns, 1)
	defer atomic.AddInt64(&p.activeConns, -1)

	session := &peerSession{conn: conn, seen: make(map[string]struct{})}
	p.conns.Store(conn, session)
	defer func() {
		p.conns.Delete(conn)
		conn.Close()
	}()

	log.Debugf("对端连接: %s", r.RemoteAddr)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if err != io.EOF && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("对端读取错误: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		atomic.AddUint64(&p.frames, 1)

		reply, err := p.handleFrame(session, data)
		if err != nil {
			log.Debugf("无效帧: %v", err)
			continue
		}
		if reply == nil {
			continue
		}

		out, err := reply.Encode()
		if err != nil {
			continue
		}
		session.mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err = conn.WriteMessage(websocket.TextMessage, out)
		session.mu.Unlock()
		if err != nil {
			log.Debugf("对端写入错误: %v", err)
			return
		}
	}
}

// handleFrame 处理一帧，返回需要回传的通知 (nil 表示不回应)
func (p *Peer) handleFrame(s *peerSession, data []byte) (*protocol.Notification, error) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		return nil, err
	}

	if cmd := frame.Command; cmd != nil {
		switch cmd.Name {
		case protocol.CommandStart:
			atomic.AddUint64(&p.transfers, 1)
			s.mu.Lock()
			s.expected = cmd.Total
			s.seen = make(map[string]struct{}, cmd.Total)
			s.mu.Unlock()
			log.Infof("传输开始: %d 块", cmd.Total)
		case protocol.CommandEnd:
			s.mu.Lock()
			got, want := len(s.seen), s.expected
			s.mu.Unlock()
			log.Infof("传输结束: 收到 %d/%d 块", got, want)
		}
		return nil, nil
	}

	payload := frame.Payload
	if p.shouldDrop() {
		atomic.AddUint64(&p.dropped, 1)
		return nil, nil
	}

	if p.cfg.VerifyChecksum && chunk.Checksum(payload.Text) != payload.Checksum {
		atomic.AddUint64(&p.errors, 1)
		n := protocol.NewError(payload.ChunkID, "checksum mismatch")
		return &n, nil
	}

	s.mu.Lock()
	if _, dup := s.seen[payload.ChunkID]; dup {
		atomic.AddUint64(&p.duplicates, 1)
	}
	s.seen[payload.ChunkID] = struct{}{}
	s.mu.Unlock()

	atomic.AddUint64(&p.acks, 1)
	n := protocol.NewAck(payload.ChunkID)
	return &n, nil
}

func (p *Peer) shouldDrop() bool {
	if p.cfg.DropRate <= 0 {
		return false
	}
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Float64() < p.cfg.DropRate
}

// Stats 获取统计
func (p *Peer) Stats() PeerStats {
	return PeerStats{
		ActiveConns: atomic.LoadInt64(&p.activeConns),
		Transfers:   atomic.LoadUint64(&p.transfers),
		Frames:      atomic.LoadUint64(&p.frames),
		Acks:        atomic.LoadUint64(&p.acks),
		Errors:      atomic.LoadUint64(&p.errors),
		Dropped:     atomic.LoadUint64(&p.dropped),
		Duplicates:  atomic.LoadUint64(&p.duplicates),
	}
}

// Stop 停止服务器
func (p *Peer) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.conns.Range(func(key, value interface{}) bool {
		conn := key.(*websocket.Conn)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
		return true
	})

	if p.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.httpServer.Shutdown(ctx)
	}

	p.wg.Wait()
}
