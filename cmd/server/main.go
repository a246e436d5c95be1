package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/config"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/framesource"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/hardware"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/logging"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/metrics"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/server"
)

func main() {
	configPath := flag.StringP("config", "c", "", "Path to configuration file (defaults are used when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	logger.Info("Service starting",
		slog.String("service", server.ServiceName),
		slog.String("version", server.ServiceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("listen_address", cfg.Server.ListenAddress()),
		slog.Int("max_clients", cfg.Server.MaxClients),
		slog.String("fifo_path", cfg.Stream.FIFOPath),
		slog.String("frame_size", cfg.Stream.FrameSize.HumanReadable()),
		slog.Bool("initially_enabled", cfg.Stream.InitiallyEnabled),
		slog.String("button_driver", cfg.Button.Driver),
		slog.Bool("producer_enabled", cfg.Producer.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		logCloser.Close()
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	appMetrics := metrics.NewMetrics()

	if err := framesource.Prepare(cfg.Stream.FIFOPath); err != nil {
		return err
	}
	defer func() {
		if err := framesource.Remove(cfg.Stream.FIFOPath); err != nil {
			logger.Warn("Failed to remove FIFO", slog.String("error", err.Error()))
		}
	}()
	logger.Info("Frame FIFO ready", slog.String("path", cfg.Stream.FIFOPath))

	device, err := hardware.Open(cfg.Button, logger.With(slog.String("component", "hardware")))
	if err != nil {
		return fmt.Errorf("failed to open stream switch: %w", err)
	}
	if device != nil {
		defer device.Close()
		logger.Info("Stream switch opened", slog.String("driver", cfg.Button.Driver))
	}

	openSource := func(ctx context.Context) (io.ReadCloser, error) {
		f, err := framesource.Open(ctx, cfg.Stream.FIFOPath)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	srv := server.New(cfg, openSource, device, logger, appMetrics)
	if err := srv.Start(); err != nil {
		return err
	}

	var producer *framesource.Producer
	if cfg.Producer.Enabled {
		producer = framesource.NewProducer(cfg.Producer.Command, cfg.Producer.Args,
			logger.With(slog.String("component", "producer")))
		if err := producer.Start(context.Background()); err != nil {
			srv.Stop()
			return err
		}
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, srv, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			httpServer = nil
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", srv.Addr().String()),
	)

	var failure error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case failure = <-srv.Errors():
		logger.Error("Server loop failed, shutting down", slog.String("error", failure.Error()))
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if producer != nil {
		if err := producer.Stop(); err != nil {
			logger.Error("Error stopping producer", slog.String("error", err.Error()))
		}
	}

	if err := srv.Stop(); err != nil && failure == nil {
		failure = err
	}

	stats := srv.Statistics()
	status := srv.Status()
	logger.Info("Final server statistics",
		slog.Uint64("commands_received", stats.CommandsReceived),
		slog.Uint64("malformed_commands", stats.MalformedCommands),
		slog.Uint64("rejections", stats.Rejections),
		slog.Uint64("frames_sent", status.FramesSent),
		slog.Uint64("fragments_sent", status.FragmentsSent),
		slog.Uint64("send_failures", status.SendFailures),
	)

	return failure
}
