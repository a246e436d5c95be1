package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/control"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/protocol"
)

var (
	// ErrServerUnavailable is returned when the server cannot be reached or goes silent
	ErrServerUnavailable = errors.New("server unavailable")

	// ErrRejected is returned when the server refuses the subscription
	ErrRejected = errors.New("subscription rejected")
)

// State is the session state
type State int

const (
	StateWaitAck State = iota
	StateSubscribedIdle
	StateStreaming
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateWaitAck:
		return "WAIT_ACK"
	case StateSubscribedIdle:
		return "SUBSCRIBED_IDLE"
	case StateStreaming:
		return "STREAMING"
	case StateRejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session subscribes to a server and prints the stream
type Session struct {
	inbox          *control.Mailbox
	display        *Display
	receiveTimeout time.Duration
	logger         *slog.Logger

	state  State
	frames uint64
}

// NewSession creates a session waiting for its address on inbox. A zero
// receiveTimeout waits for packets forever.
func NewSession(inbox *control.Mailbox, display *Display, receiveTimeout time.Duration, logger *slog.Logger) *Session {
	return &Session{
		inbox:          inbox,
		display:        display,
		receiveTimeout: receiveTimeout,
		logger:         logger,
	}
}

// Run waits for the server address, subscribes and consumes packets until the
// subscription is refused, the server is lost, or ctx is done. UNSUBSCRIBE is sent
// and the socket closed on every exit path.
func (s *Session) Run(ctx context.Context) error {
	server, err := s.awaitAddress(ctx)
	if err != nil {
		return nil
	}

	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(server))
	if err != nil {
		s.display.Unavailable()
		return fmt.Errorf("%w: %w", ErrServerUnavailable, err)
	}
	defer s.close(conn)

	// a cancelled session unblocks the pending read
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	s.display.Subscribing(server.String())
	if _, err := conn.Write(protocol.EncodeCommand(protocol.CommandSubscribe)); err != nil {
		s.display.Unavailable()
		return fmt.Errorf("%w: %w", ErrServerUnavailable, err)
	}

	s.state = StateWaitAck
	buffer := make([]byte, protocol.PacketSize)

	for {
		var deadline time.Time
		if s.receiveTimeout > 0 {
			deadline = time.Now().Add(s.receiveTimeout)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		n, err := conn.Read(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("Receive failed",
				slog.String("state", s.state.String()),
				slog.String("error", err.Error()),
			)
			s.display.Unavailable()
			return fmt.Errorf("%w: %w", ErrServerUnavailable, err)
		}

		packet, err := protocol.ParseFramePacket(buffer[:n])
		if err != nil {
			s.logger.Warn("Discarding malformed packet", slog.String("error", err.Error()))
			continue
		}

		if s.handle(packet) == StateRejected {
			return ErrRejected
		}
	}
}

func (s *Session) awaitAddress(ctx context.Context) (netip.AddrPort, error) {
	for {
		msg, err := s.inbox.Receive(ctx)
		if err != nil {
			return netip.AddrPort{}, err
		}

		switch m := msg.(type) {
		case control.ServerAddressResolved:
			return m.Addr, nil
		default:
			s.logger.Warn("Ignoring unexpected control message", slog.String("kind", msg.Kind().String()))
		}
	}
}

// handle advances the state machine with one packet and returns the new state
func (s *Session) handle(p *protocol.FramePacket) State {
	sub, stream := p.Options.Sub, p.Options.Stream

	prev := s.state
	switch {
	case !sub:
		s.state = StateRejected
	case stream:
		s.state = StateStreaming
	default:
		s.state = StateSubscribedIdle
	}

	if s.state != prev {
		s.logger.Debug("Session state changed",
			slog.String("from", prev.String()),
			slog.String("to", s.state.String()),
		)

		switch s.state {
		case StateRejected:
			s.display.Rejected()
		case StateStreaming:
			s.display.Streaming()
		case StateSubscribedIdle:
			if prev == StateStreaming {
				s.display.Reset()
				s.display.Paused()
			} else {
				s.display.Waiting()
			}
		}
	}

	if s.state == StateStreaming && len(p.Payload) > 0 {
		s.display.Fragment(p)
		if p.Options.Stop {
			s.frames++
		}
	}

	return s.state
}

// State returns the current session state. Call it only while Run is not executing.
func (s *Session) State() State {
	return s.state
}

func (s *Session) close(conn *net.UDPConn) {
	if _, err := conn.Write(protocol.EncodeCommand(protocol.CommandUnsubscribe)); err != nil {
		s.logger.Debug("Failed to send unsubscribe", slog.String("error", err.Error()))
	}
	if err := conn.Close(); err != nil {
		s.logger.Debug("Failed to close socket", slog.String("error", err.Error()))
	}

	s.logger.Info("Session closed",
		slog.String("state", s.state.String()),
		slog.Uint64("frames", s.frames),
	)
}
