// Package main implements the occupancy regulator.
// It keeps per-core CPU and system RAM utilization near configured targets.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/container-resource-predictor/occupancy/internal/api"
	"github.com/container-resource-predictor/occupancy/internal/config"
	"github.com/container-resource-predictor/occupancy/internal/cpuregulator"
	"github.com/container-resource-predictor/occupancy/internal/ramregulator"
	"github.com/container-resource-predictor/occupancy/internal/supervisor"
	"github.com/container-resource-predictor/occupancy/internal/sysmetrics"
	"github.com/container-resource-predictor/occupancy/pkg/common"
)

const component = "occupancy"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	runID := uuid.New().String()
	slog.SetDefault(newLogger(cfg).With("runId", runID))

	slog.Info("Starting occupancy regulator",
		"profile", cfg.Profile,
		"cpuEnabled", cfg.CPUEnabled,
		"cpuThreshold", cfg.CPUThreshold,
		"ramEnabled", cfg.RAMEnabled,
		"ramLow", cfg.RAMBand.Low,
		"ramHigh", cfg.RAMBand.High,
		"excludedCores", cfg.ExcludedCores)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := sysmetrics.New()
	sup, err := supervisor.New(ctx, cfg, source, func(core int) cpuregulator.Sampler {
		return source.NewCoreSampler(core)
	})
	if err != nil {
		slog.Error("Failed to set up regulators", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	metrics := common.NewMetrics(component, reg)
	for _, r := range sup.CPURegulators() {
		r.SetOnCycle(func(core int, sample float64, phase cpuregulator.Phase) {
			metrics.ObserveCPUCycle(core, sample, string(phase))
		})
	}
	if r := sup.RAMRegulator(); r != nil {
		r.SetOnAdjust(func(s ramregulator.Snapshot) {
			metrics.ObserveRAMAdjustment(s.UsagePercent, string(s.Action), s.Blocks, s.PoolBytes)
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(ctx)
	})

	if cfg.StatusPort > 0 {
		server := common.NewServer(component, cfg.StatusPort, reg, metrics)
		statusHandler(runID, cfg, sup).RegisterRoutes(server.Router())
		g.Go(func() error {
			return server.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("Occupancy regulator stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Occupancy regulator stopped")
}

func statusHandler(runID string, cfg *config.Config, sup *supervisor.Supervisor) *api.Handler {
	cores := make([]api.CoreReporter, 0, len(sup.CPURegulators()))
	for _, r := range sup.CPURegulators() {
		cores = append(cores, r)
	}
	var ram api.RAMReporter
	if r := sup.RAMRegulator(); r != nil {
		ram = r
	}
	return api.NewHandler(runID, *cfg, cores, ram)
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
