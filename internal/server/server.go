package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/config"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/control"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/hardware"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/metrics"
)

// Server runs the listener, broadcaster and, when a device is present, the button loop
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	inbox       *control.Mailbox
	listener    *Listener
	broadcaster *Broadcaster
	button      *ButtonLoop
	status      *StatusBoard

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	errs      chan error
	startTime time.Time
}

// New wires the loops together. device may be nil, in which case the stream stays
// in its initial state.
func New(cfg *config.Config, open SourceOpener, device hardware.Device, logger *slog.Logger, m *metrics.Metrics) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	inbox := control.NewMailbox("broadcaster", cfg.Stream.ControlQueue)
	status := NewStatusBoard()

	s := &Server{
		config:   cfg,
		logger:   logger,
		metrics:  m,
		inbox:    inbox,
		status:   status,
		listener: NewListener(&cfg.Server, inbox, logger.With(slog.String("loop", "listener")), m),
		broadcaster: NewBroadcaster(BroadcasterConfig{
			FrameSize:        int(cfg.Stream.FrameSize.Bytes()),
			InitiallyEnabled: cfg.Stream.InitiallyEnabled,
			SocketWait:       cfg.Server.SocketWait,
			EOFBackoff:       cfg.Stream.EOFBackoff,
		}, inbox, open, status, logger.With(slog.String("loop", "broadcaster")), m),
		ctx:    ctx,
		cancel: cancel,
		errs:   make(chan error, 3),
	}

	if device != nil {
		s.button = NewButtonLoop(device, &cfg.Button, inbox, cfg.Stream.InitiallyEnabled,
			logger.With(slog.String("loop", "button")))
	}

	return s
}

// Start binds the socket and launches the loops
func (s *Server) Start() error {
	if err := s.listener.Bind(); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	s.startTime = time.Now()

	s.run("listener", s.listener.Run)
	s.run("broadcaster", s.broadcaster.Run)
	if s.button != nil {
		s.run("button", s.button.Run)
	} else {
		s.logger.Info("No stream switch configured",
			slog.Bool("streaming", s.config.Stream.InitiallyEnabled),
		)
	}

	s.logger.Info("Server started",
		slog.String("address", s.listener.LocalAddr().String()),
		slog.Int("max_clients", s.config.Server.MaxClients),
	)

	return nil
}

func (s *Server) run(name string, loop func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := loop(s.ctx); err != nil {
			s.logger.Error("Loop failed", slog.String("loop", name), slog.String("error", err.Error()))
			s.errs <- fmt.Errorf("%s: %w", name, err)
			// one failed loop takes the others down
			s.cancel()
		}
	}()
}

// Errors delivers loop failures. The server is already stopping when one arrives.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Stop cancels the loops and waits for them to exit
func (s *Server) Stop() error {
	s.logger.Info("Stopping server...")

	s.cancel()
	s.wg.Wait()

	var errs []error
	for {
		select {
		case err := <-s.errs:
			errs = append(errs, err)
			continue
		default:
		}
		break
	}

	stats := s.listener.Statistics()
	status := s.status.Load()
	s.logger.Info("Server stopped",
		slog.Uint64("commands_received", stats.CommandsReceived),
		slog.Uint64("rejections", stats.Rejections),
		slog.Uint64("frames_sent", status.FramesSent),
		slog.Uint64("send_failures", status.SendFailures),
	)

	return errors.Join(errs...)
}

// Addr returns the bound UDP address
func (s *Server) Addr() net.Addr {
	return s.listener.LocalAddr()
}

// Status returns the latest broadcaster status
func (s *Server) Status() Status {
	return s.status.Load()
}

// Statistics returns the listener counters
func (s *Server) Statistics() ListenerStatistics {
	return s.listener.Statistics()
}

// Uptime returns the time since Start
func (s *Server) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}
