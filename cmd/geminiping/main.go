// geminiping pings every configured openGemini server and reports version
// and latency. With -interval it keeps probing and serves Prometheus metrics
// on metrics.listen until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"opengemini-client/client"
	"opengemini-client/completion"
	"opengemini-client/config"
	"opengemini-client/logging"
	"opengemini-client/metrics"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := flag.String("config", defaultConfigPath, "path to YAML config")
	interval := flag.Duration("interval", 0, "repeat pings at this interval; 0 pings once")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	c, err := client.NewClient(cfg,
		client.WithLogger(logger),
		client.WithMetrics(metrics.New(reg)),
	)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", zap.String("listen", cfg.Metrics.Listen))
	}

	failed := pingAll(c, logger)
	if *interval <= 0 {
		if failed > 0 {
			return fmt.Errorf("%d of %d servers failed", failed, len(c.Servers()))
		}
		return nil
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			pingAll(c, logger)
		}
	}
}

// pingAll pings every server concurrently and returns the failure count.
func pingAll(c *client.Client, logger *zap.Logger) int {
	n := len(c.Servers())
	futures := make([]*completion.Future[*client.PingResult], n)
	for i := range futures {
		futures[i] = completion.NewFuture[*client.PingResult]()
		c.Ping(i, futures[i])
	}

	failed := 0
	for i, fut := range futures {
		res, err := fut.Result()
		if err != nil {
			failed++
			logger.Warn("ping failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		logger.Info("ping ok",
			zap.Stringer("endpoint", res.Endpoint),
			zap.String("server_version", res.Version),
			zap.Duration("latency", res.Latency),
		)
	}
	return failed
}
