// =============================================================================
// 文件: internal/metrics/server.go
// 描述: 指标与健康检查 HTTP 服务 - 探针结果全部来自 HealthTracker
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logging.Logger("metrics")

const shutdownTimeout = 5 * time.Second

// ServerOptions 服务选项
type ServerOptions struct {
	Listen      string
	MetricsPath string
	HealthPath  string
	EnablePprof bool
}

// MetricsServer 指标服务器
type MetricsServer struct {
	opts     ServerOptions
	registry *prometheus.Registry
	health   *HealthTracker
}

// HealthStatus 健康状态
type HealthStatus struct {
	Status         string                     `json:"status"`
	Timestamp      time.Time                  `json:"timestamp"`
	Version        string                     `json:"version"`
	Uptime         time.Duration              `json:"uptime"`
	Components     map[string]ComponentHealth `json:"components"`
	RecentFailures []string                   `json:"recent_failures,omitempty"`
}

// ComponentHealth 组件健康状态
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// httpCode 只有 unhealthy 返回 503，degraded 仍可服务
func (st HealthStatus) httpCode() int {
	if st.Status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// NewMetricsServer 创建指标服务器，使用独立 registry
func NewMetricsServer(opts ServerOptions, health *HealthTracker) *MetricsServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &MetricsServer{
		opts:     opts,
		registry: registry,
		health:   health,
	}
}

// MustRegisterCollector 注册收集器 (失败时 panic)
func (s *MetricsServer) MustRegisterCollector(c prometheus.Collector) {
	s.registry.MustRegister(c)
}

// Registry 指标注册表
func (s *MetricsServer) Registry() *prometheus.Registry {
	return s.registry
}

// Handler 构建路由
func (s *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()

	hp := s.opts.HealthPath
	mux.HandleFunc(hp, func(w http.ResponseWriter, r *http.Request) {
		st := s.health.Check()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(st.httpCode())
		if err := json.NewEncoder(w).Encode(st); err != nil {
			log.Debugf("写入健康状态失败: %v", err)
		}
	})
	// 进程能响应即存活
	mux.HandleFunc(hp+"/live", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "OK")
	})
	mux.HandleFunc(hp+"/ready", func(w http.ResponseWriter, r *http.Request) {
		if code := s.health.Check().httpCode(); code != http.StatusOK {
			writeText(w, code, "NOT READY")
			return
		}
		writeText(w, http.StatusOK, "READY")
	})

	mux.Handle(s.opts.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          s.registry,
	}))

	if s.opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		for name, fn := range map[string]http.HandlerFunc{
			"cmdline": pprof.Cmdline,
			"profile": pprof.Profile,
			"symbol":  pprof.Symbol,
			"trace":   pprof.Trace,
		} {
			mux.HandleFunc("/debug/pprof/"+name, fn)
		}
	}

	return mux
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, body)
}

// Serve 监听并服务，ctx 取消时优雅关闭
// 监听失败立即返回错误；正常关闭返回 nil。
func (s *MetricsServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Infof("指标服务: http://%s%s", ln.Addr(), s.opts.MetricsPath)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
