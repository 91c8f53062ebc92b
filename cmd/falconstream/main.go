// Package main provides the entry point for the FalconStream consumer: a
// long-lived client for the CrowdStrike Falcon Event Stream API that
// delivers events to a bounded queue and forwards them downstream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/lvonguyen/falconstream/internal/api"
	"github.com/lvonguyen/falconstream/internal/config"
	"github.com/lvonguyen/falconstream/internal/falcon"
	"github.com/lvonguyen/falconstream/internal/observability"
	"github.com/lvonguyen/falconstream/internal/offsets"
	"github.com/lvonguyen/falconstream/internal/sink"
	"github.com/lvonguyen/falconstream/internal/stream"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("FalconStream %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "falconstream: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting falconstream",
		zap.String("version", Version),
		zap.String("cloud", cfg.Falcon.Cloud),
		zap.String("stream_name", cfg.Stream.Name),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	falcon.Version = Version
	client := falcon.NewClient(falcon.Config{
		ClientID:     cfg.Falcon.ClientID,
		ClientSecret: cfg.Falcon.ClientSecret,
		BaseURL:      cfg.Falcon.BaseURL,
		Timeout:      cfg.Falcon.Timeout,
	})

	metrics := observability.NewMetrics()
	queue := sink.NewQueue(cfg.Sink.QueueSize, metrics)

	var offsetStore stream.OffsetStore
	if cfg.Offsets.Enabled {
		store := offsets.NewRedisStore(cfg.Offsets, cfg.Stream.Name)
		if err := store.Ping(ctx); err != nil {
			return err
		}
		defer store.Close()
		offsetStore = store
		logger.Info("offset checkpointing enabled", zap.String("addr", cfg.Offsets.Addr))
	}

	streamer := stream.NewStreamer(stream.StreamerConfig{
		Client:             client,
		Stream:             cfg.Stream,
		Sink:               queue,
		Offsets:            offsetStore,
		CheckpointInterval: cfg.Offsets.Interval,
		Logger:             logger,
		Metrics:            metrics,
	})

	if cfg.Server.Enabled {
		server := api.NewServer(cfg.Server, streamer, metrics, logger, Version)
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Error("ops server failed", zap.Error(err))
			}
		}()
	}

	var wg sync.WaitGroup
	var streamErr, forwardErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		streamErr = streamer.Run(ctx)
		// All producers have stopped; let the forwarder drain and exit.
		queue.Close()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		// If the consumer dies the producers must not block forever on a
		// full queue, so a forwarder exit cancels the whole run.
		defer stop()
		if cfg.Kafka.Enabled {
			forwarder := sink.NewKafkaForwarder(cfg.Kafka, logger)
			forwardErr = forwarder.Run(ctx, queue.Events())
		} else {
			forwarder := sink.NewStdoutForwarder(os.Stdout, logger)
			forwardErr = forwarder.Run(ctx, queue.Events())
		}
	}()

	wg.Wait()

	if errors.Is(streamErr, context.Canceled) {
		streamErr = nil
	}
	if errors.Is(forwardErr, context.Canceled) {
		forwardErr = nil
	}

	err = errors.Join(streamErr, forwardErr)
	if err != nil {
		logger.Error("falconstream exited with errors", zap.Error(err))
		return err
	}
	logger.Info("falconstream stopped")
	return nil
}
