// Command recsync-bench connects a recsync.Client to a server, subscribes
// to a configurable set of records, counts the root-value notifications it
// receives and logs that total at shutdown, and serves the client's
// Prometheus metrics over /metrics. It computes no throughput or latency
// figures.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	_ "go.uber.org/automaxprocs"

	recsync "github.com/recsync-io/recsync-go"
	"github.com/recsync-io/recsync-go/internal/wire"
)

func newLogger(level, format string) zerolog.Logger {
	var lvl zerolog.Level
	switch level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Str("service", "recsync-bench").Logger()
	}
	return zerolog.New(output).With().Timestamp().Str("service", "recsync-bench").Logger()
}

func logHostSnapshot(logger zerolog.Logger) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	var rssMB float64
	if err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			rssMB = float64(info.RSS) / 1024 / 1024
		}
	}

	var sysMemMB float64
	if vmem, err := mem.VirtualMemory(); err == nil {
		sysMemMB = float64(vmem.Used) / 1024 / 1024
	}

	logger.Info().
		Int("gomaxprocs", runtime.GOMAXPROCS(0)).
		Float64("process_rss_mb", rssMB).
		Float64("system_used_mb", sysMemMB).
		Msg("host resource snapshot")
}

func main() {
	bootstrap := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := LoadConfig(&bootstrap)
	if err != nil {
		bootstrap.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	logHostSnapshot(logger)

	registry := prometheus.NewRegistry()

	client, err := recsync.New(cfg.ServerURL, recsync.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		SendDelay:         cfg.SendDelay,
		Logger:            logger,
		MetricsRegistry:   registry,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct recsync client")
	}

	client.OnError(func(topic wire.Topic, code, msg string) {
		logger.Warn().Str("topic", string(topic)).Str("code", code).Str("msg", msg).Msg("recsync error")
	})

	var observedCount atomic.Int64
	for i := 0; i < cfg.RecordCount; i++ {
		name := fmt.Sprintf("%s/%d", cfg.RecordPrefix, i)
		unsubscribe := client.Observe(name).Subscribe(func(value any) {
			observedCount.Add(1)
		})
		defer unsubscribe()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	logger.Info().
		Str("metrics_addr", cfg.MetricsAddr).
		Int("record_count", cfg.RecordCount).
		Msg("recsync-bench running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Int64("records_observed", observedCount.Load()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	if err := client.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing recsync client")
	}
}
