// =============================================================================
// 文件: internal/metrics/metrics_test.go
// 描述: 指标与健康检查测试
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mrcgq/chunklink/internal/chunk"
	"github.com/mrcgq/chunklink/internal/transfer"
	"github.com/mrcgq/chunklink/internal/transport"
)

func TestTransferMetricsObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTransferMetrics(reg)

	m.Report(transfer.Stats{Total: 10, Sent: 6, Completed: 4, Failed: 1, Percent: 40, InFlight: 2, StoreSize: 7})

	if got := testutil.ToFloat64(m.ChunksCompleted); got != 4 {
		t.Errorf("ChunksCompleted 不匹配: got %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.Progress); got != 40 {
		t.Errorf("Progress 不匹配: got %v, want 40", got)
	}
	if got := testutil.ToFloat64(m.InFlight); got != 2 {
		t.Errorf("InFlight 不匹配: got %v, want 2", got)
	}

	sent := time.Now()
	c := chunk.Chunk{RetryCount: 1, SentAt: sent, CompletedAt: sent.Add(30 * time.Millisecond)}
	m.ChunkCompleted(c)
	m.ChunkRetried(c)
	m.ChunkRetried(c)
	m.ChunkFailed(c)

	if got := testutil.ToFloat64(m.Retries); got != 2 {
		t.Errorf("Retries 不匹配: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Outcomes.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed 不匹配: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Outcomes.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed 不匹配: got %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.AckLatency); n != 1 {
		t.Errorf("AckLatency 应有 1 个序列, got %d", n)
	}
}

type fakePeer struct{ s transport.PeerStats }

func (f fakePeer) Stats() transport.PeerStats { return f.s }

func TestPeerCollector(t *testing.T) {
	c := NewPeerCollector(fakePeer{s: transport.PeerStats{
		ActiveConns: 1, Frames: 12, Acks: 10, Errors: 1, Dropped: 1,
	}})

	expected := `
# HELP chunklink_peer_replies_total Notifications sent back to the sender
# TYPE chunklink_peer_replies_total counter
chunklink_peer_replies_total{type="ack"} 10
chunklink_peer_replies_total{type="error"} 1
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "chunklink_peer_replies_total"); err != nil {
		t.Errorf("对端指标不匹配: %v", err)
	}
	if n := testutil.CollectAndCount(c); n != 7 {
		t.Errorf("指标数 = %d, want 7", n)
	}
}

func TestLinkCollector(t *testing.T) {
	link := transport.NewSimLink(transport.SimConfig{Seed: 1})
	c := NewLinkCollector(link)

	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	if n := testutil.CollectAndCount(c); n != 4 {
		t.Errorf("指标数 = %d, want 4", n)
	}
}

func TestHealthTracker(t *testing.T) {
	h := NewHealthTracker("test")

	if st := h.Check(); st.Status != StatusHealthy {
		t.Errorf("初始状态应为 healthy, got %s", st.Status)
	}

	h.Report(transfer.Stats{Total: 3, Completed: 2, Failed: 1})
	h.ChunkFailed(chunk.Chunk{LastError: "ack timeout"})

	st := h.Check()
	if st.Status != StatusDegraded {
		t.Errorf("有失败块时应为 degraded, got %s", st.Status)
	}
	if st.Components["transfer"].Status != StatusDegraded {
		t.Errorf("transfer 组件状态错误: %+v", st.Components["transfer"])
	}
	if f := st.RecentFailures; len(f) != 1 || f[0] != "ack timeout" {
		t.Errorf("RecentFailures = %v", f)
	}

	h.LinkError(errors.New("connection reset"))
	if st := h.Check(); st.Status != StatusUnhealthy {
		t.Errorf("链路错误时应为 unhealthy, got %s", st.Status)
	}

	h.LinkError(nil)
	if st := h.Check(); st.Status != StatusDegraded {
		t.Errorf("链路恢复后应回到 degraded, got %s", st.Status)
	}
}

func TestMetricsServerHandler(t *testing.T) {
	h := NewHealthTracker("test")
	srv := NewMetricsServer(ServerOptions{
		Listen:      "127.0.0.1:0",
		MetricsPath: "/metrics",
		HealthPath:  "/health",
	}, h)
	tm := NewTransferMetrics(srv.Registry())

	stats := transfer.Stats{Total: 2, Completed: 1, Failed: 1, Percent: 50}
	tm.Report(stats)
	h.Report(stats)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	t.Run("健康检查降级仍返回200", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("状态码 = %d, want 200", resp.StatusCode)
		}
		var status HealthStatus
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			t.Fatalf("解析健康状态失败: %v", err)
		}
		if status.Status != StatusDegraded {
			t.Errorf("Status = %s, want degraded", status.Status)
		}
	})

	t.Run("就绪探针", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health/ready")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("状态码 = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("存活探针", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health/live")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("状态码 = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("指标端点", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		buf := new(strings.Builder)
		if _, err := io.Copy(buf, resp.Body); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "chunklink_transfer_progress_percent 50") {
			t.Error("指标输出缺少进度")
		}
	})
}

func TestMetricsServerUnhealthyLink(t *testing.T) {
	h := NewHealthTracker("test")
	srv := NewMetricsServer(ServerOptions{MetricsPath: "/metrics", HealthPath: "/health"}, h)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	h.LinkError(transport.ErrNotConnected)

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusServiceUnavailable},
		{"/health/ready", http.StatusServiceUnavailable},
		{"/health/live", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.code {
				t.Errorf("状态码 = %d, want %d", resp.StatusCode, tt.code)
			}
		})
	}
}

func TestMetricsServerServeStopsOnCancel(t *testing.T) {
	srv := NewMetricsServer(ServerOptions{
		Listen:      "127.0.0.1:0",
		MetricsPath: "/metrics",
		HealthPath:  "/health",
	}, NewHealthTracker("test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("正常关闭应返回 nil, got %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("取消后服务未退出")
	}
}
