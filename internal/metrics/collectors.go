// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义 - 抓取时读取对端与链路的计数
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/chunklink/internal/transport"
)

// =============================================================================
// 测试对端收集器
// =============================================================================

// PeerStatsProvider 对端统计数据接口
type PeerStatsProvider interface {
	Stats() transport.PeerStats
}

// PeerCollector 对端指标收集器
type PeerCollector struct {
	statsProvider PeerStatsProvider

	// 描述符
	activeConnsDesc *prometheus.Desc
	transfersDesc   *prometheus.Desc
	framesDesc      *prometheus.Desc
	repliesDesc     *prometheus.Desc
	droppedDesc     *prometheus.Desc
	duplicatesDesc  *prometheus.Desc
}

// NewPeerCollector 创建对端收集器
func NewPeerCollector(provider PeerStatsProvider) *PeerCollector {
	subsystem := "peer"

	return &PeerCollector{
		statsProvider: provider,

		activeConnsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "active_connections"),
			"Number of connected senders",
			nil, nil,
		),
		transfersDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "transfers_total"),
			"Transfers opened with START",
			nil, nil,
		),
		framesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "frames_total"),
			"Chunk payload frames received",
			nil, nil,
		),
		repliesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "replies_total"),
			"Notifications sent back to the sender",
			[]string{"type"}, nil,
		),
		droppedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "dropped_total"),
			"Frames deliberately dropped to emulate loss",
			nil, nil,
		),
		duplicatesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "duplicates_total"),
			"Chunks received more than once",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *PeerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeConnsDesc
	ch <- c.transfersDesc
	ch <- c.framesDesc
	ch <- c.repliesDesc
	ch <- c.droppedDesc
	ch <- c.duplicatesDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *PeerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.statsProvider.Stats()

	ch <- prometheus.MustNewConstMetric(c.activeConnsDesc, prometheus.GaugeValue, float64(s.ActiveConns))
	ch <- prometheus.MustNewConstMetric(c.transfersDesc, prometheus.CounterValue, float64(s.Transfers))
	ch <- prometheus.MustNewConstMetric(c.framesDesc, prometheus.CounterValue, float64(s.Frames))
	ch <- prometheus.MustNewConstMetric(c.repliesDesc, prometheus.CounterValue, float64(s.Acks), "ack")
	ch <- prometheus.MustNewConstMetric(c.repliesDesc, prometheus.CounterValue, float64(s.Errors), "error")
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.duplicatesDesc, prometheus.CounterValue, float64(s.Duplicates))
}

// =============================================================================
// 发送端链路收集器
// =============================================================================

// LinkStatsProvider 链路统计数据接口
type LinkStatsProvider interface {
	Stats() transport.LinkStats
}

// LinkCollector 链路指标收集器
type LinkCollector struct {
	statsProvider LinkStatsProvider

	framesSentDesc    *prometheus.Desc
	notificationsDesc *prometheus.Desc
	droppedDesc       *prometheus.Desc
	queuedDesc        *prometheus.Desc
}

// NewLinkCollector 创建链路收集器
func NewLinkCollector(provider LinkStatsProvider) *LinkCollector {
	subsystem := "link"

	return &LinkCollector{
		statsProvider: provider,

		framesSentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "frames_sent_total"),
			"Frames written to the link (commands and payloads)",
			nil, nil,
		),
		notificationsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "notifications_total"),
			"Notifications received from the peer",
			nil, nil,
		),
		droppedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "dropped_total"),
			"Frames lost on the link or discarded on inbox overflow",
			nil, nil,
		),
		queuedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "queued_notifications"),
			"Notifications buffered and not yet polled",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *LinkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesSentDesc
	ch <- c.notificationsDesc
	ch <- c.droppedDesc
	ch <- c.queuedDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *LinkCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.statsProvider.Stats()

	ch <- prometheus.MustNewConstMetric(c.framesSentDesc, prometheus.CounterValue, float64(s.FramesSent))
	ch <- prometheus.MustNewConstMetric(c.notificationsDesc, prometheus.CounterValue, float64(s.Notifications))
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.queuedDesc, prometheus.GaugeValue, float64(s.Queued))
}
