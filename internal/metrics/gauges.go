// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 传输埋点指标（Counter/Gauge/Histogram），作为会话观察者接收进度
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/chunklink/internal/chunk"
	"github.com/mrcgq/chunklink/internal/transfer"
)

const namespace = "chunklink"

// TransferMetrics 传输指标集合
type TransferMetrics struct {
	// 进度相关 (每周期由统计覆盖)
	ChunksTotal     prometheus.Gauge
	ChunksSent      prometheus.Gauge
	ChunksCompleted prometheus.Gauge
	ChunksFailed    prometheus.Gauge
	Progress        prometheus.Gauge

	// 窗口与存储
	InFlight  prometheus.Gauge
	Pending   prometheus.Gauge
	StoreSize prometheus.Gauge

	// 事件相关
	Retries     prometheus.Counter
	Outcomes    *prometheus.CounterVec
	AckLatency  prometheus.Histogram
	AckAttempts prometheus.Histogram

	// 异常确认
	DuplicateAcks prometheus.Gauge
	UnknownAcks   prometheus.Gauge

	// 链路质量
	SmoothedRTT prometheus.Gauge
	LossRate    prometheus.Gauge
}

// NewTransferMetrics 创建指标集合
func NewTransferMetrics(registry prometheus.Registerer) *TransferMetrics {
	m := &TransferMetrics{
		ChunksTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "chunks",
			Help:      "Number of chunks in the current transfer",
		}),

		ChunksSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "chunks_sent",
			Help:      "Chunks sent at least once",
		}),

		ChunksCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "chunks_completed",
			Help:      "Chunks acknowledged by the peer",
		}),

		ChunksFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "chunks_failed",
			Help:      "Chunks that exhausted their retries",
		}),

		Progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "progress_percent",
			Help:      "Completed chunks as a percentage of total",
		}),

		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "window",
			Name:      "in_flight",
			Help:      "Chunks sent and awaiting acknowledgement",
		}),

		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "window",
			Name:      "pending",
			Help:      "Chunks queued for (re)transmission",
		}),

		StoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "chunks",
			Help:      "Chunks currently held in the store",
		}),

		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "retries_total",
			Help:      "Total chunk re-sends",
		}),

		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "chunk_outcomes_total",
			Help:      "Terminal chunk outcomes",
		}, []string{"outcome"}),

		AckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "ack_latency_seconds",
			Help:      "Time from last send to acknowledgement",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		AckAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "send_attempts",
			Help:      "Sends needed per completed chunk",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		}),

		DuplicateAcks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "duplicate_acks",
			Help:      "Acknowledgements for chunks already completed or evicted",
		}),

		UnknownAcks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "unknown_acks",
			Help:      "Acknowledgements for ids never sent",
		}),

		SmoothedRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "srtt_seconds",
			Help:      "Smoothed acknowledgement round trip time",
		}),

		LossRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "loss_rate",
			Help:      "Smoothed share of sends that timed out or failed",
		}),
	}

	// 注册所有指标
	registry.MustRegister(
		m.ChunksTotal,
		m.ChunksSent,
		m.ChunksCompleted,
		m.ChunksFailed,
		m.Progress,
		m.InFlight,
		m.Pending,
		m.StoreSize,
		m.Retries,
		m.Outcomes,
		m.AckLatency,
		m.AckAttempts,
		m.DuplicateAcks,
		m.UnknownAcks,
		m.SmoothedRTT,
		m.LossRate,
	)

	return m
}

// Report 每周期覆盖进度指标
func (m *TransferMetrics) Report(s transfer.Stats) {
	m.ChunksTotal.Set(float64(s.Total))
	m.ChunksSent.Set(float64(s.Sent))
	m.ChunksCompleted.Set(float64(s.Completed))
	m.ChunksFailed.Set(float64(s.Failed))
	m.Progress.Set(float64(s.Percent))
	m.InFlight.Set(float64(s.InFlight))
	m.Pending.Set(float64(s.Pending))
	m.StoreSize.Set(float64(s.StoreSize))
	m.DuplicateAcks.Set(float64(s.DuplicateAcks))
	m.UnknownAcks.Set(float64(s.UnknownAcks))
	m.SmoothedRTT.Set(s.SmoothedRTT.Seconds())
	m.LossRate.Set(s.LossRate)
}

// ChunkCompleted 记录确认延迟与发送次数
func (m *TransferMetrics) ChunkCompleted(c chunk.Chunk) {
	m.Outcomes.WithLabelValues("completed").Inc()
	m.AckLatency.Observe(c.Latency().Seconds())
	m.AckAttempts.Observe(float64(c.RetryCount + 1))
}

// ChunkRetried 记录重发
func (m *TransferMetrics) ChunkRetried(chunk.Chunk) {
	m.Retries.Inc()
}

// ChunkFailed 记录最终失败
func (m *TransferMetrics) ChunkFailed(chunk.Chunk) {
	m.Outcomes.WithLabelValues("failed").Inc()
}
