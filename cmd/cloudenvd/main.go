// Command cloudenvd stands up one lsmcloud virtual environment and its
// healthz/metrics HTTP surface. It does not embed an LSM engine itself —
// per spec.md's own Non-goals, the engine is a separate process/library
// that drives pkg/cloudenv.FS; this binary exists to prove the
// environment opens, serves its health surface, and shuts down cleanly,
// the same role the teacher's cmd/lsmdb/main.go plays for its own
// "Lab 1 skeleton" node.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"lsmcloud/internal/config"
	"lsmcloud/internal/healthz"
	"lsmcloud/pkg/cloudenv"
	"lsmcloud/pkg/logstream"
	"lsmcloud/pkg/metrics"
	"lsmcloud/pkg/objstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cloudenvd: loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "cloudenvd: invalid config: %v\n", err)
		os.Exit(1)
	}
	initLogger(cfg)

	store, err := objstore.NewS3Client(ctx, objstore.S3Config{
		Region:          cfg.Cloud.Region,
		AccessKeyID:     cfg.Cloud.Credentials.AccessKey,
		SecretAccessKey: cfg.Cloud.Credentials.SecretKey,
	})
	if err != nil {
		slog.Error("cloudenvd: building object store client", "error", err)
		os.Exit(1)
	}

	var logs logstream.Client
	if cfg.Mode() == config.ModeCloudFull {
		logs, err = logstream.NewKinesisClient(ctx, logstream.KinesisConfig{
			Region:          cfg.Cloud.Region,
			AccessKeyID:     cfg.Cloud.Credentials.AccessKey,
			SecretAccessKey: cfg.Cloud.Credentials.SecretKey,
		})
		if err != nil {
			slog.Error("cloudenvd: building log stream client", "error", err)
			os.Exit(1)
		}
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheusCollector(reg)

	env, err := cloudenv.New(cfg, store, logs, collector)
	if err != nil {
		slog.Error("cloudenvd: constructing environment", "error", err)
		os.Exit(1)
	}

	if _, err := env.Open(ctx); err != nil {
		slog.Error("cloudenvd: opening environment", "error", err)
		os.Exit(1)
	}
	slog.Info("cloudenvd: environment open", "mode", cfg.Mode().String())

	hz := healthz.New(env, reg, fmt.Sprintf(":%d", cfg.Server.Port))
	if err := hz.Start(); err != nil {
		slog.Error("cloudenvd: starting healthz server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("cloudenvd: shutting down")

	if err := hz.Stop(); err != nil {
		slog.Warn("cloudenvd: healthz shutdown", "error", err)
	}
	env.Close()
	slog.Info("cloudenvd: stopped")
}
