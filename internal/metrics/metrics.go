// =============================================================================
// 文件: internal/metrics/metrics.go
// 描述: 健康状态跟踪 - 记录最近一次进度，供健康检查端点使用
// =============================================================================
package metrics

import (
	"sync"
	"time"

	"github.com/mrcgq/chunklink/internal/chunk"
	"github.com/mrcgq/chunklink/internal/transfer"
)

// 健康状态
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthTracker 健康状态跟踪
// 作为会话观察者记录最近一次统计；有块最终失败时报告 degraded。
type HealthTracker struct {
	version   string
	startTime time.Time

	last     transfer.Stats
	reported bool
	failures []string // 最近失败块的原因

	linkErr error

	mu sync.RWMutex
}

const maxFailureRecords = 16

var _ transfer.LinkObserver = (*HealthTracker)(nil)

// NewHealthTracker 创建跟踪器
func NewHealthTracker(version string) *HealthTracker {
	return &HealthTracker{
		version:   version,
		startTime: time.Now(),
	}
}

// Report 记录最近一次统计
func (h *HealthTracker) Report(s transfer.Stats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = s
	h.reported = true
}

func (h *HealthTracker) ChunkCompleted(chunk.Chunk) {}

func (h *HealthTracker) ChunkRetried(chunk.Chunk) {}

// ChunkFailed 记录失败原因
func (h *HealthTracker) ChunkFailed(c chunk.Chunk) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.failures) >= maxFailureRecords {
		h.failures = h.failures[1:]
	}
	h.failures = append(h.failures, c.LastError)
}

// LinkError 记录链路错误，nil 表示恢复
func (h *HealthTracker) LinkError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.linkErr = err
}

// Check 生成健康状态
func (h *HealthTracker) Check() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     time.Since(h.startTime),
		Components: make(map[string]ComponentHealth),
	}

	transferHealth := ComponentHealth{Status: StatusHealthy}
	if !h.reported {
		transferHealth.Message = "尚未开始"
	}
	if h.last.Failed > 0 {
		transferHealth.Status = StatusDegraded
		transferHealth.Message = h.last.String()
		status.Status = StatusDegraded
	}
	status.Components["transfer"] = transferHealth

	linkHealth := ComponentHealth{Status: StatusHealthy}
	if h.linkErr != nil {
		linkHealth.Status = StatusUnhealthy
		linkHealth.Message = h.linkErr.Error()
		status.Status = StatusUnhealthy
	}
	status.Components["link"] = linkHealth

	if len(h.failures) > 0 {
		status.RecentFailures = append([]string(nil), h.failures...)
	}
	return status
}
