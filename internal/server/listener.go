package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/config"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/control"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/metrics"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/protocol"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/registry"
)

// receivePoll bounds how long a read blocks before the context is checked again
const receivePoll = 250 * time.Millisecond

// Listener receives client commands and owns the subscriber registry
type Listener struct {
	conn     *net.UDPConn
	config   *config.ServerConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	registry *registry.Registry
	out      *control.Mailbox

	commandsReceived  atomic.Uint64
	malformedCommands atomic.Uint64
	rejections        atomic.Uint64
}

// NewListener creates a listener publishing into out
func NewListener(cfg *config.ServerConfig, out *control.Mailbox, logger *slog.Logger, m *metrics.Metrics) *Listener {
	return &Listener{
		config:   cfg,
		logger:   logger,
		metrics:  m,
		registry: registry.New(cfg.MaxClients),
		out:      out,
	}
}

// Bind opens the UDP socket
func (l *Listener) Bind() error {
	addr, err := net.ResolveUDPAddr("udp", l.config.ListenAddress())
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	bufferSize := int(l.config.ReadBuffer.Bytes())
	if err := conn.SetReadBuffer(bufferSize); err != nil {
		l.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", bufferSize),
			slog.String("error", err.Error()),
		)
	}

	l.conn = conn

	l.logger.Info("UDP listener bound",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("max_clients", l.registry.Capacity()),
	)

	return nil
}

// LocalAddr returns the bound address, nil before Bind
func (l *Listener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Run hands the socket to the broadcaster and serves commands until ctx is done.
// The socket is closed when Run returns.
func (l *Listener) Run(ctx context.Context) error {
	if l.conn == nil {
		if err := l.Bind(); err != nil {
			return err
		}
	}
	defer l.conn.Close()

	if err := l.out.Send(ctx, control.SocketHandle{Conn: l.conn}); err != nil {
		return nil
	}

	buffer := make([]byte, protocol.CommandSize*4)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Listener stopping",
				slog.Uint64("commands_received", l.commandsReceived.Load()),
				slog.Uint64("malformed_commands", l.malformedCommands.Load()),
				slog.Uint64("rejections", l.rejections.Load()),
			)
			return nil
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(receivePoll)); err != nil {
			l.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, from, err := l.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
			continue
		}

		l.handleDatagram(ctx, buffer[:n], from)
	}
}

func (l *Listener) handleDatagram(ctx context.Context, data []byte, from netip.AddrPort) {
	cmd, err := protocol.ParseCommand(data)
	if err != nil {
		l.malformedCommands.Add(1)
		l.metrics.RecordMalformedCommand()
		l.logger.Warn("Discarding malformed command",
			slog.String("remote_addr", from.String()),
			slog.Int("size", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	l.commandsReceived.Add(1)
	l.metrics.RecordCommand(cmd.String())

	switch cmd {
	case protocol.CommandSubscribe:
		l.subscribe(ctx, from)
	case protocol.CommandUnsubscribe:
		l.unsubscribe(ctx, from)
	}
}

func (l *Listener) subscribe(ctx context.Context, from netip.AddrPort) {
	slot, err := l.registry.Add(from)
	switch {
	case err == nil:
		entry, _ := l.registry.Lookup(from)
		l.logger.Info("Client subscribed",
			slog.String("remote_addr", from.String()),
			slog.Int("slot", slot),
			slog.String("subscription_id", entry.ID.String()),
			slog.Int("subscribers", l.registry.Active()),
		)
		l.reply(from, protocol.NewControlPacket(true, false))
		l.publish(ctx)

	case errors.Is(err, registry.ErrAlreadySubscribed):
		l.logger.Info("Client already subscribed",
			slog.String("remote_addr", from.String()),
			slog.Int("slot", slot),
		)
		l.reply(from, protocol.NewControlPacket(true, false))

	case errors.Is(err, registry.ErrFull):
		l.rejections.Add(1)
		l.metrics.RecordRejection()
		l.logger.Warn("Subscription denied, registry full",
			slog.String("remote_addr", from.String()),
			slog.Int("capacity", l.registry.Capacity()),
		)
		l.reply(from, protocol.NewControlPacket(false, false))
	}
}

func (l *Listener) unsubscribe(ctx context.Context, from netip.AddrPort) {
	slot, err := l.registry.Remove(from)
	if err != nil {
		l.logger.Info("Unsubscribe from unknown client", slog.String("remote_addr", from.String()))
		return
	}

	l.logger.Info("Client unsubscribed",
		slog.String("remote_addr", from.String()),
		slog.Int("slot", slot),
		slog.Int("subscribers", l.registry.Active()),
	)
	l.publish(ctx)
}

// publish sends the current registry to the broadcaster
func (l *Listener) publish(ctx context.Context) {
	l.metrics.SetSubscribers(l.registry.Active())

	if err := l.out.Send(ctx, control.RegistrySnapshot{Entries: l.registry.Snapshot()}); err != nil {
		l.logger.Debug("Registry snapshot not delivered", slog.String("error", err.Error()))
	}
}

func (l *Listener) reply(to netip.AddrPort, packet *protocol.FramePacket) {
	data, err := packet.MarshalBinary()
	if err != nil {
		l.logger.Error("Failed to encode reply", slog.String("error", err.Error()))
		return
	}

	if _, err := l.conn.WriteToUDPAddrPort(data, to); err != nil {
		l.logger.Warn("Failed to send reply",
			slog.String("remote_addr", to.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ListenerStatistics are the listener counters
type ListenerStatistics struct {
	CommandsReceived  uint64 `json:"commands_received"`
	MalformedCommands uint64 `json:"malformed_commands"`
	Rejections        uint64 `json:"rejections"`
}

// Statistics returns the current counters
func (l *Listener) Statistics() ListenerStatistics {
	return ListenerStatistics{
		CommandsReceived:  l.commandsReceived.Load(),
		MalformedCommands: l.malformedCommands.Load(),
		Rejections:        l.rejections.Load(),
	}
}
