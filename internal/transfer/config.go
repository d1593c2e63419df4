// =============================================================================
// 文件: internal/transfer/config.go
// 描述: 传输会话配置 (唯一定义)
// =============================================================================
package transfer

import (
	"errors"
	"fmt"
	"time"
)

// 默认参数
const (
	DefaultWindowSize   = 5
	DefaultChunkSize    = 100
	DefaultAckTimeout   = 5 * time.Second
	DefaultCleanupDelay = 5 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 1 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// 错误定义
var (
	ErrInvalidConfig = errors.New("传输配置无效")
	ErrCancelled     = errors.New("传输已取消")
)

// Config 会话配置
type Config struct {
	WindowSize   int
	ChunkSize    int // 字符数
	AckTimeout   time.Duration
	CleanupDelay time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	PollInterval time.Duration

	// 对端节奏提示，原样写入每个负载
	SpeedCPS   int
	IntervalMS int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		WindowSize:   DefaultWindowSize,
		ChunkSize:    DefaultChunkSize,
		AckTimeout:   DefaultAckTimeout,
		CleanupDelay: DefaultCleanupDelay,
		MaxRetries:   DefaultMaxRetries,
		RetryDelay:   DefaultRetryDelay,
		PollInterval: DefaultPollInterval,
	}
}

// Validate 验证配置，任何错误都在发送前失败
func (c Config) Validate() error {
	switch {
	case c.WindowSize <= 0:
		return fmt.Errorf("%w: window_size 必须为正数 (%d)", ErrInvalidConfig, c.WindowSize)
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk_size 必须为正数 (%d)", ErrInvalidConfig, c.ChunkSize)
	case c.AckTimeout <= 0:
		return fmt.Errorf("%w: ack_timeout 必须为正数 (%v)", ErrInvalidConfig, c.AckTimeout)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll_interval 必须为正数 (%v)", ErrInvalidConfig, c.PollInterval)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries 不能为负 (%d)", ErrInvalidConfig, c.MaxRetries)
	case c.RetryDelay < 0:
		return fmt.Errorf("%w: retry_delay 不能为负 (%v)", ErrInvalidConfig, c.RetryDelay)
	case c.CleanupDelay < 0:
		return fmt.Errorf("%w: cleanup_delay 不能为负 (%v)", ErrInvalidConfig, c.CleanupDelay)
	case c.SpeedCPS < 0 || c.IntervalMS < 0:
		return fmt.Errorf("%w: speed_cps / interval_ms 不能为负", ErrInvalidConfig)
	}
	return nil
}
