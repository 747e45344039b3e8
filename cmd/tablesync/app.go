package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/JonMunkholm/tablesync/internal/codec"
	"github.com/JonMunkholm/tablesync/internal/config"
	"github.com/JonMunkholm/tablesync/internal/core"
	"github.com/JonMunkholm/tablesync/internal/gateway"
	"github.com/JonMunkholm/tablesync/internal/monitoring"
)

// app is the wired processor with its metrics registry.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *monitoring.Registry
	processor *core.Processor
}

// newApp opens the gateway needed by the configured mode and builds the
// processor. Only the side of the transfer that the mode touches is opened.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	gwOpts := []gateway.Option{gateway.WithConnectTimeout(cfg.Database.ConnectTimeout)}

	deps := core.Dependencies{
		Logger:   logger,
		Progress: core.LogProgress(logger),
	}

	var err error
	switch cfg.Sync.Mode {
	case config.ModeExport:
		deps.Source, err = gateway.Open(cfg.Database.SourceURL, logger, gwOpts...)
		if err != nil {
			return nil, fmt.Errorf("source database: %w", err)
		}
	case config.ModeImport:
		deps.Destination, err = gateway.Open(cfg.Database.DestinationURL, logger, gwOpts...)
		if err != nil {
			return nil, fmt.Errorf("destination database: %w", err)
		}
	}

	deps.Codec, err = codec.For(cfg.Sync.FileFormat,
		codec.WithEncoding(cfg.Sync.CSVEncoding),
		codec.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	registry := monitoring.NewRegistry()
	deps.Metrics = monitoring.NewSyncMetrics(registry)

	processor, err := core.NewProcessor(cfg.Sync, deps)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		processor: processor,
	}, nil
}

// reportingRunner prints a summary after every run.
type reportingRunner struct {
	runner core.Runner
	out    io.Writer
}

func (r reportingRunner) Process(ctx context.Context) (*core.RunReport, error) {
	report, err := r.runner.Process(ctx)
	if report != nil {
		printSummary(r.out, report)
	}
	return report, err
}
