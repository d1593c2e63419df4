// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 传输参数、节奏提示、链路、测试对端与监控配置
//       端口冲突检测、毫秒字段到 time.Duration 的转换
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/yaml.v3"

	"github.com/mrcgq/chunklink/internal/transfer"
)

// 链路模式
const (
	ModeWebSocket = "websocket"
	ModeSim       = "sim"
)

// Config 主配置
type Config struct {
	LogLevel string `yaml:"log_level"`

	Transfer  TransferConfig  `yaml:"transfer"`
	Pacing    PacingConfig    `yaml:"pacing"`
	Transport TransportConfig `yaml:"transport"`
	Peer      PeerConfig      `yaml:"peer"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// TransferConfig 分块传输配置
type TransferConfig struct {
	WindowSize     int  `yaml:"window_size"`
	ChunkSize      int  `yaml:"chunk_size"` // 字符数
	AckTimeoutMs   int  `yaml:"ack_timeout_ms"`
	CleanupDelayMs int  `yaml:"cleanup_delay_ms"`
	MaxRetries     int  `yaml:"max_retries"`
	RetryDelayMs   int  `yaml:"retry_delay_ms"`
	PollIntervalMs int  `yaml:"poll_interval_ms"`
	Transliterate  bool `yaml:"transliterate"`
}

// PacingConfig 对端节奏提示，原样写入每个负载
type PacingConfig struct {
	SpeedCPS   int `yaml:"speed_cps"`
	IntervalMs int `yaml:"interval_ms"`
}

// TransportConfig 链路配置
type TransportConfig struct {
	Mode           string `yaml:"mode"` // websocket, sim
	URL            string `yaml:"url"`
	MaxMsgsPerSec  int    `yaml:"max_msgs_per_sec"` // 0 不限速
	Burst          int    `yaml:"burst"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`

	// 模拟链路
	SimDropRate  float64 `yaml:"sim_drop_rate"`
	SimLatencyMs int     `yaml:"sim_latency_ms"`
	SimSeed      int64   `yaml:"sim_seed"`
}

// PeerConfig 测试对端配置
type PeerConfig struct {
	Listen         string  `yaml:"listen"`
	Path           string  `yaml:"path"`
	DropRate       float64 `yaml:"drop_rate"`
	VerifyChecksum bool    `yaml:"verify_checksum"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",

		Transfer: TransferConfig{
			WindowSize:     transfer.DefaultWindowSize,
			ChunkSize:      transfer.DefaultChunkSize,
			AckTimeoutMs:   int(transfer.DefaultAckTimeout / time.Millisecond),
			CleanupDelayMs: int(transfer.DefaultCleanupDelay / time.Millisecond),
			MaxRetries:     transfer.DefaultMaxRetries,
			RetryDelayMs:   int(transfer.DefaultRetryDelay / time.Millisecond),
			PollIntervalMs: int(transfer.DefaultPollInterval / time.Millisecond),
		},

		Transport: TransportConfig{
			Mode:           ModeWebSocket,
			URL:            "ws://127.0.0.1:54323/ws",
			Burst:          1,
			WriteTimeoutMs: 5000,
			SimLatencyMs:   20,
			SimSeed:        1,
		},

		Peer: PeerConfig{
			Listen:         ":54323",
			Path:           "/ws",
			VerifyChecksum: true,
		},

		Metrics: MetricsConfig{
			Enabled:     false,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if _, err := logging.LevelFromString(c.LogLevel); err != nil {
		return fmt.Errorf("无效的 log_level: %s (支持: debug, info, warn, error)", c.LogLevel)
	}

	if err := c.validateTransferConfig(); err != nil {
		return fmt.Errorf("transfer 配置错误: %w", err)
	}

	if c.Pacing.SpeedCPS < 0 || c.Pacing.IntervalMs < 0 {
		return fmt.Errorf("pacing 配置错误: speed_cps 与 interval_ms 不能为负")
	}

	if err := c.validateTransportConfig(); err != nil {
		return fmt.Errorf("transport 配置错误: %w", err)
	}

	if err := c.validatePeerConfig(); err != nil {
		return fmt.Errorf("peer 配置错误: %w", err)
	}

	// 端口冲突检测
	if c.Metrics.Enabled {
		metricsPort, err := parsePort(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if peerPort, err := parsePort(c.Peer.Listen); err == nil && peerPort == metricsPort {
			return fmt.Errorf("metrics.listen 端口 (%d) 与 peer.listen 冲突", metricsPort)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") || !strings.HasPrefix(c.Metrics.HealthPath, "/") {
			return fmt.Errorf("metrics.path 与 metrics.health_path 必须以 / 开头")
		}
		if c.Metrics.Path == c.Metrics.HealthPath {
			return fmt.Errorf("metrics.path 与 metrics.health_path 不能相同")
		}
	}

	return nil
}

// validateTransferConfig 验证传输参数，与 transfer.Config.Validate 保持一致
func (c *Config) validateTransferConfig() error {
	if err := c.SessionConfig().Validate(); err != nil {
		return err
	}
	if c.Transfer.WindowSize > 1024 {
		return fmt.Errorf("window_size 需在 1-1024 之间")
	}
	return nil
}

// validateTransportConfig 验证链路配置
func (c *Config) validateTransportConfig() error {
	switch c.Transport.Mode {
	case ModeWebSocket:
		if !strings.HasPrefix(c.Transport.URL, "ws://") && !strings.HasPrefix(c.Transport.URL, "wss://") {
			return fmt.Errorf("url 必须以 ws:// 或 wss:// 开头: %q", c.Transport.URL)
		}
	case ModeSim:
		if c.Transport.SimDropRate < 0 || c.Transport.SimDropRate >= 1 {
			return fmt.Errorf("sim_drop_rate 需在 [0, 1) 之间")
		}
		if c.Transport.SimLatencyMs < 0 {
			return fmt.Errorf("sim_latency_ms 不能为负")
		}
	default:
		return fmt.Errorf("无效的链路模式: %s (支持: websocket, sim)", c.Transport.Mode)
	}

	if c.Transport.MaxMsgsPerSec < 0 {
		return fmt.Errorf("max_msgs_per_sec 不能为负")
	}
	if c.Transport.MaxMsgsPerSec > 0 && c.Transport.Burst < 1 {
		return fmt.Errorf("限速时 burst 至少为 1")
	}
	if c.Transport.WriteTimeoutMs < 0 {
		return fmt.Errorf("write_timeout_ms 不能为负")
	}
	return nil
}

// validatePeerConfig 验证测试对端配置
func (c *Config) validatePeerConfig() error {
	if _, err := parsePort(c.Peer.Listen); err != nil {
		return fmt.Errorf("listen 端口格式错误: %w", err)
	}
	if !strings.HasPrefix(c.Peer.Path, "/") {
		return fmt.Errorf("path 必须以 / 开头: %q", c.Peer.Path)
	}
	if c.Peer.DropRate < 0 || c.Peer.DropRate >= 1 {
		return fmt.Errorf("drop_rate 需在 [0, 1) 之间")
	}
	return nil
}

// SessionConfig 转换为传输会话配置
func (c *Config) SessionConfig() transfer.Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }

	return transfer.Config{
		WindowSize:   c.Transfer.WindowSize,
		ChunkSize:    c.Transfer.ChunkSize,
		AckTimeout:   ms(c.Transfer.AckTimeoutMs),
		CleanupDelay: ms(c.Transfer.CleanupDelayMs),
		MaxRetries:   c.Transfer.MaxRetries,
		RetryDelay:   ms(c.Transfer.RetryDelayMs),
		PollInterval: ms(c.Transfer.PollIntervalMs),
		SpeedCPS:     c.Pacing.SpeedCPS,
		IntervalMS:   c.Pacing.IntervalMs,
	}
}

// WriteTimeout 链路写超时
func (c *TransportConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// SimLatency 模拟链路单向延迟
func (c *TransportConfig) SimLatency() time.Duration {
	return time.Duration(c.SimLatencyMs) * time.Millisecond
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# chunklink 配置文件示例
# =============================================================================

log_level: "info"                   # 日志级别: debug, info, warn, error

# 分块传输
transfer:
  window_size: 5                    # 同时在途的最大块数
  chunk_size: 100                   # 每块字符数
  ack_timeout_ms: 5000              # 确认超时 (毫秒)
  cleanup_delay_ms: 5000            # 完成后保留时间 (毫秒)
  max_retries: 3                    # 最大重试次数 (总发送次数 = 1 + max_retries)
  retry_delay_ms: 1000              # 重发前等待 (毫秒)
  poll_interval_ms: 100             # 窗口周期 (毫秒)
  transliterate: false              # 非拉丁文字转写后发送

# 对端节奏提示 (原样写入每个负载)
pacing:
  speed_cps: 0
  interval_ms: 0

# 链路
transport:
  mode: "websocket"                 # websocket, sim
  url: "ws://127.0.0.1:54323/ws"
  max_msgs_per_sec: 0               # 发送限速, 0 不限
  burst: 1
  write_timeout_ms: 5000
  sim_drop_rate: 0.0                # 模拟链路丢包率
  sim_latency_ms: 20
  sim_seed: 1

# 测试对端
peer:
  listen: ":54323"
  path: "/ws"
  drop_rate: 0.0                    # 丢弃收到的块的比例
  verify_checksum: true             # 校验失败回 ERROR (发送端开启转写时应关闭)

# 监控
metrics:
  enabled: false
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
