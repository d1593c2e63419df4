// =============================================================================
// 文件: cmd/chunklink-peer/main.go
// 描述: 测试对端入口 - 接收分块并回传确认，可按比例丢帧模拟有损链路
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/chunklink/internal/config"
	"github.com/mrcgq/chunklink/internal/metrics"
	"github.com/mrcgq/chunklink/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "", "配置文件路径 (留空使用默认配置)")
	showVersion := flag.Bool("v", false, "显示版本")
	listen := flag.String("listen", "", "监听地址")
	path := flag.String("path", "", "WebSocket 路径")
	dropRate := flag.Float64("drop-rate", -1, "丢帧比例 [0,1)")
	noVerify := flag.Bool("no-verify", false, "不校验数据块校验和")
	seed := flag.Int64("seed", 0, "丢帧随机种子, 0 表示随机")
	logLevel := flag.String("log-level", "", "日志级别: debug/info/warn/error")

	flag.Parse()

	if *showVersion {
		fmt.Printf("chunklink-peer v%s (build %s, commit %s, %s %s/%s)\n",
			Version, BuildTime, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if *listen != "" {
		cfg.Peer.Listen = *listen
	}
	if *path != "" {
		cfg.Peer.Path = *path
	}
	if *dropRate >= 0 {
		cfg.Peer.DropRate = *dropRate
	}
	if *noVerify {
		cfg.Peer.VerifyChecksum = false
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}
	lvl, _ := logging.LevelFromString(cfg.LogLevel)
	logging.SetAllLoggers(lvl)

	peer := transport.NewPeer(transport.PeerConfig{
		Listen:         cfg.Peer.Listen,
		Path:           cfg.Peer.Path,
		DropRate:       cfg.Peer.DropRate,
		VerifyChecksum: cfg.Peer.VerifyChecksum,
		Seed:           *seed,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		ms := metrics.NewMetricsServer(metrics.ServerOptions{
			Listen:      cfg.Metrics.Listen,
			MetricsPath: cfg.Metrics.Path,
			HealthPath:  cfg.Metrics.HealthPath,
			EnablePprof: cfg.Metrics.EnablePprof,
		}, metrics.NewHealthTracker(Version))
		ms.MustRegisterCollector(metrics.NewPeerCollector(peer))
		g.Go(func() error {
			return ms.Serve(gctx)
		})
	}

	g.Go(func() error {
		if err := peer.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		peer.Stop()
		return nil
	})

	printBanner(cfg)

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "运行失败: %v\n", err)
		os.Exit(1)
	}

	st := peer.Stats()
	fmt.Println("\n正在关闭...")
	fmt.Printf("[INFO] 传输 %d, 数据帧 %d, 确认 %d, 错误 %d, 丢弃 %d, 重复 %d\n",
		st.Transfers, st.Frames, st.Acks, st.Errors, st.Dropped, st.Duplicates)
}

func printBanner(cfg *config.Config) {
	verify := "开启"
	if !cfg.Peer.VerifyChecksum {
		verify = "关闭"
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║  chunklink-peer v%-48s ║\n", Version)
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  监听: %-57s ║\n", cfg.Peer.Listen+cfg.Peer.Path)
	fmt.Printf("║  丢帧率: %-55s ║\n", fmt.Sprintf("%.1f%%", cfg.Peer.DropRate*100))
	fmt.Printf("║  校验和: %-55s ║\n", verify)
	if cfg.Metrics.Enabled {
		fmt.Printf("║  Prometheus: http://localhost%s%-35s ║\n", cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Println("║  按 Ctrl+C 停止                                                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}
