package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/client"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/config"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/control"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/logging"
)

func main() {
	configPath := flag.StringP("config", "c", "", "Path to configuration file")
	serverAddr := flag.StringP("server", "s", "", "Server IPv4 address, prompted for when empty")
	logLevel := flag.StringP("log-level", "l", "warn", "Log level: debug, info, warn, error")
	mode := flag.StringP("mode", "m", "", "Display mode: immediate or buffered")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Client.Mode = *mode
		if err := cfg.Client.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid mode: %v\n", err)
			os.Exit(1)
		}
	}

	// frames go to stdout, keep log lines off it
	cfg.Logging.Level = *logLevel
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	fmt.Println("** Start client **")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGTSTP)
	defer stop()

	display := client.NewDisplay(os.Stdout, cfg.Client.Mode)
	mailbox := control.NewMailbox("session", 1)

	bootstrap := client.NewBootstrap(os.Stdin, display, mailbox, cfg.Client.Port, *serverAddr,
		logger.With(slog.String("loop", "bootstrap")))
	session := client.NewSession(mailbox, display, cfg.Client.ReceiveTimeout,
		logger.With(slog.String("loop", "session")))

	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	var wg sync.WaitGroup
	var sessionErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := bootstrap.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Bootstrap failed", slog.String("error", err.Error()))
			// no address will ever arrive
			cancelSession()
		}
	}()
	go func() {
		defer wg.Done()
		sessionErr = session.Run(sessionCtx)
	}()

	wg.Wait()

	display.Bye()
	fmt.Println("** Stop client **")

	if sessionErr != nil {
		logger.Warn("Session ended", slog.String("error", sessionErr.Error()))
		logCloser.Close()
		os.Exit(1)
	}
}
