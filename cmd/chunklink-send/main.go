// =============================================================================
// 文件: cmd/chunklink-send/main.go
// 描述: 发送端入口 - 读取文本，分块经 WebSocket 或模拟链路可靠送达对端
// =============================================================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/chunklink/internal/config"
	"github.com/mrcgq/chunklink/internal/metrics"
	"github.com/mrcgq/chunklink/internal/textprep"
	"github.com/mrcgq/chunklink/internal/transfer"
	"github.com/mrcgq/chunklink/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	exitOK       = 0
	exitError    = 1
	exitDegraded = 2 // 传输完成但有块最终失败
)

// link 发送端链路
type link interface {
	transport.Adapter
	Stats() transport.LinkStats
	Close() error
}

func main() {
	configPath := flag.String("c", "", "配置文件路径 (留空使用默认配置)")
	inputPath := flag.String("f", "-", "输入文本文件, - 表示标准输入")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")

	// 常用覆盖项
	mode := flag.String("mode", "", "链路模式: websocket/sim")
	url := flag.String("url", "", "对端 WebSocket 地址")
	window := flag.Int("window", 0, "窗口大小")
	chunkSize := flag.Int("chunk-size", 0, "每块字符数")
	retries := flag.Int("retries", -1, "最大重试次数")
	transliterate := flag.Bool("transliterate", false, "非拉丁文字转写后发送")
	logLevel := flag.String("log-level", "", "日志级别: debug/info/warn/error")

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("chunklink.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(exitError)
		}
		fmt.Println("已生成示例配置文件: chunklink.example.yaml")
		return
	}

	// 加载配置
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(exitError)
		}
		cfg = loaded
	}

	// 命令行覆盖
	if *mode != "" {
		cfg.Transport.Mode = *mode
	}
	if *url != "" {
		cfg.Transport.URL = *url
	}
	if *window > 0 {
		cfg.Transfer.WindowSize = *window
	}
	if *chunkSize > 0 {
		cfg.Transfer.ChunkSize = *chunkSize
	}
	if *retries >= 0 {
		cfg.Transfer.MaxRetries = *retries
	}
	if *transliterate {
		cfg.Transfer.Transliterate = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(exitError)
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "日志配置错误: %v\n", err)
		os.Exit(exitError)
	}

	text, err := readInput(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取输入失败: %v\n", err)
		os.Exit(exitError)
	}

	os.Exit(run(cfg, text))
}

// run 建立链路并执行一次传输，返回退出码
func run(cfg *config.Config, text string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l, err := dial(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "链路错误: %v\n", err)
		return exitError
	}
	defer l.Close()

	adapter := transport.NewPaced(l, float64(cfg.Transport.MaxMsgsPerSec), cfg.Transport.Burst)

	opts := []transfer.Option{transfer.WithProgress(printProgress)}
	if cfg.Transfer.Transliterate {
		opts = append(opts, transfer.WithPreprocessor(textprep.New()))
	}

	// 指标
	var ms *metrics.MetricsServer
	health := metrics.NewHealthTracker(Version)
	if cfg.Metrics.Enabled {
		ms = metrics.NewMetricsServer(metricsOptions(cfg), health)
		ms.MustRegisterCollector(metrics.NewLinkCollector(l))
		opts = append(opts,
			transfer.WithObserver(metrics.NewTransferMetrics(ms.Registry())),
			transfer.WithObserver(health),
		)
	}

	sess, err := transfer.NewSession(cfg.SessionConfig(), adapter, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "会话错误: %v\n", err)
		return exitError
	}

	printBanner(cfg, len([]rune(text)))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	if ms != nil {
		g.Go(func() error {
			if err := ms.Serve(gctx); err != nil {
				return fmt.Errorf("指标服务: %w", err)
			}
			return nil
		})
	}

	var res *transfer.Result
	g.Go(func() error {
		// 传输结束后关闭指标服务
		defer cancelRun()
		var err error
		res, err = sess.Run(gctx, text)
		if err != nil && !errors.Is(err, transfer.ErrCancelled) {
			health.LinkError(err)
		}
		return err
	})

	err = g.Wait()
	fmt.Println()

	if res != nil {
		printSummary(res)
	}
	switch {
	case errors.Is(err, transfer.ErrCancelled):
		fmt.Fprintln(os.Stderr, "传输已取消")
		return exitError
	case err != nil:
		fmt.Fprintf(os.Stderr, "传输失败: %v\n", err)
		return exitError
	case res.Degraded():
		return exitDegraded
	}
	return exitOK
}

// dial 按模式建立链路
func dial(ctx context.Context, cfg *config.Config) (link, error) {
	tc := cfg.Transport
	switch tc.Mode {
	case config.ModeSim:
		return transport.NewSimLink(transport.SimConfig{
			DropRate:       tc.SimDropRate,
			Latency:        tc.SimLatency(),
			VerifyChecksum: !cfg.Transfer.Transliterate,
			Seed:           tc.SimSeed,
		}), nil
	default:
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		ws, err := transport.DialWebSocket(dialCtx, tc.URL, transport.WSOptions{
			WriteTimeout: tc.WriteTimeout(),
		})
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
}

func metricsOptions(cfg *config.Config) metrics.ServerOptions {
	return metrics.ServerOptions{
		Listen:      cfg.Metrics.Listen,
		MetricsPath: cfg.Metrics.Path,
		HealthPath:  cfg.Metrics.HealthPath,
		EnablePprof: cfg.Metrics.EnablePprof,
	}
}

func readInput(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func setupLogging(level string) error {
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return err
	}
	logging.SetAllLoggers(lvl)
	return nil
}

func printProgress(s transfer.Stats) {
	fmt.Printf("\r[进度] %3d%%  %d/%d  在途 %d  重试 %d  失败 %d   ",
		s.Percent, s.Completed, s.Total, s.InFlight, s.Retries, s.Failed)
}

func printVersion() {
	fmt.Printf("chunklink-send v%s\n", Version)
	fmt.Printf("  Build: %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()
	fmt.Println("链路模式:")
	fmt.Println("  - websocket : 连接 chunklink-peer 或兼容对端")
	fmt.Println("  - sim       : 内存模拟链路 (可配置丢包与延迟)")
	fmt.Println()
	fmt.Println("使用示例:")
	fmt.Println("  chunklink-send -f message.txt -url ws://127.0.0.1:54323/ws")
	fmt.Println("  echo 'hello' | chunklink-send -mode sim -window 3")
	fmt.Println()
	fmt.Println("退出码:")
	fmt.Println("  0 全部送达, 1 错误或取消, 2 部分块最终失败")
}

func printBanner(cfg *config.Config, chars int) {
	tc := cfg.Transfer
	target := cfg.Transport.URL
	if cfg.Transport.Mode == config.ModeSim {
		target = fmt.Sprintf("sim (丢包 %.0f%%, 延迟 %dms)", cfg.Transport.SimDropRate*100, cfg.Transport.SimLatencyMs)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║  chunklink-send v%-48s ║\n", Version)
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  目标: %-57s ║\n", truncateString(target, 57))
	fmt.Printf("║  文本: %-57s ║\n", fmt.Sprintf("%d 字符, 每块 %d", chars, tc.ChunkSize))
	fmt.Printf("║  窗口: %-57s ║\n", fmt.Sprintf("%d, 超时 %dms, 重试 %d 次", tc.WindowSize, tc.AckTimeoutMs, tc.MaxRetries))
	if cfg.Metrics.Enabled {
		fmt.Printf("║  Prometheus: http://localhost%s%-35s ║\n", cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func printSummary(res *transfer.Result) {
	s := res.Stats
	fmt.Printf("[INFO] 完成 %d/%d (%d%%), 失败 %d, 重试 %d, 耗时 %v\n",
		s.Completed, s.Total, s.Percent, s.Failed, s.Retries, res.Elapsed.Round(time.Millisecond))
	if s.DuplicateAcks > 0 || s.UnknownAcks > 0 {
		fmt.Printf("[INFO] 重复确认 %d, 未知确认 %d\n", s.DuplicateAcks, s.UnknownAcks)
	}
	for _, c := range res.Failed {
		fmt.Printf("[WARN] 块 #%d 失败 (%d 次重试): %s\n", c.Sequence, c.RetryCount, c.LastError)
	}
	if res.EndErr != nil {
		fmt.Printf("[WARN] END 发送失败: %v\n", res.EndErr)
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
