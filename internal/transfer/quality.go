// =============================================================================
// 文件: internal/transfer/quality.go
// 描述: 链路质量估算 - 确认延迟的平滑 RTT (RFC 6298) 与丢失率 EWMA
//       只用于统计与监控，不影响超时与重发延迟
// =============================================================================
package transfer

import (
	"time"
)

const (
	rttAlpha  = 0.125 // SRTT 平滑因子 (1/8)
	rttBeta   = 0.25  // RTTVAR 平滑因子 (1/4)
	lossAlpha = 0.125 // 丢失率 EWMA 权重
)

// linkQuality 链路质量
// 由会话循环独占，不加锁。
type linkQuality struct {
	smoothedRTT time.Duration
	rttVariance time.Duration
	minRTT      time.Duration
	initialized bool

	lossRate float64
	acked    uint64
	lost     uint64
}

// onAck 记录一次确认延迟
func (q *linkQuality) onAck(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	q.acked++
	q.lossRate *= 1 - lossAlpha

	if q.minRTT == 0 || rtt < q.minRTT {
		q.minRTT = rtt
	}

	if !q.initialized {
		q.smoothedRTT = rtt
		q.rttVariance = rtt / 2
		q.initialized = true
		return
	}

	// RTTVAR = (1 - beta) * RTTVAR + beta * |SRTT - R|
	diff := q.smoothedRTT - rtt
	if diff < 0 {
		diff = -diff
	}
	q.rttVariance = time.Duration(float64(q.rttVariance)*(1-rttBeta) + float64(diff)*rttBeta)

	// SRTT = (1 - alpha) * SRTT + alpha * R
	q.smoothedRTT = time.Duration(float64(q.smoothedRTT)*(1-rttAlpha) + float64(rtt)*rttAlpha)
}

// onLoss 记录一次发送失败 (超时、对端报错或写入失败)
func (q *linkQuality) onLoss() {
	q.lost++
	q.lossRate = q.lossRate*(1-lossAlpha) + lossAlpha
}

// apply 写入统计
func (q *linkQuality) apply(s *Stats) {
	s.SmoothedRTT = q.smoothedRTT
	s.RTTVariance = q.rttVariance
	s.MinRTT = q.minRTT
	s.LossRate = q.lossRate
}
