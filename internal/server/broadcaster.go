package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/control"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/metrics"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/protocol"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/registry"
)

// ErrSocketUnavailable is returned by Broadcaster.Run when no socket handle arrives in time
var ErrSocketUnavailable = errors.New("listener socket not available")

// SourceOpener opens the frame source. It may block until a producer attaches.
type SourceOpener func(ctx context.Context) (io.ReadCloser, error)

// BroadcasterConfig holds the broadcaster tunables
type BroadcasterConfig struct {
	FrameSize        int
	InitiallyEnabled bool
	SocketWait       time.Duration
	EOFBackoff       time.Duration
}

// Broadcaster reads frames and fans them out to every active subscriber.
// All of its state is private to the Run goroutine.
type Broadcaster struct {
	config  BroadcasterConfig
	inbox   *control.Mailbox
	open    SourceOpener
	logger  *slog.Logger
	metrics *metrics.Metrics
	status  *StatusBoard

	conn        *net.UDPConn
	enabled     bool
	subscribers registry.Snapshot
	stats       Status
}

// NewBroadcaster creates a broadcaster consuming inbox
func NewBroadcaster(cfg BroadcasterConfig, inbox *control.Mailbox, open SourceOpener, status *StatusBoard, logger *slog.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		config:  cfg,
		inbox:   inbox,
		open:    open,
		logger:  logger,
		metrics: m,
		status:  status,
		enabled: cfg.InitiallyEnabled,
	}
}

// Run waits for the socket handle then streams until ctx is done.
// While the stream is disabled it only waits for control messages and the
// frame source is left untouched.
func (b *Broadcaster) Run(ctx context.Context) error {
	if err := b.awaitSocket(ctx); err != nil {
		return err
	}

	b.metrics.SetStreamEnabled(b.enabled)
	b.publishStatus()

	readCtx, cancelRead := context.WithCancel(ctx)
	var reader *frameReader
	defer func() {
		cancelRead()
		if reader != nil {
			<-reader.done
		}
	}()

	pending := false
	for {
		var frames <-chan []byte
		if b.enabled {
			if reader == nil {
				reader = newFrameReader(b.open, b.config.FrameSize, b.config.EOFBackoff, b.logger)
				go reader.run(readCtx)
			}
			if !pending {
				reader.request()
				pending = true
			}
			frames = reader.frames
		}

		select {
		case <-ctx.Done():
			return nil

		case msg := <-b.inbox.Messages():
			b.apply(ctx, msg)

		case frame := <-frames:
			pending = false
			b.metrics.RecordFrame(len(frame))
			b.sendFrame(ctx, frame)
		}
	}
}

// awaitSocket blocks for the SocketHandle, applying any other message received meanwhile
func (b *Broadcaster) awaitSocket(ctx context.Context) error {
	waitCtx := ctx
	if b.config.SocketWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, b.config.SocketWait)
		defer cancel()
	}

	for b.conn == nil {
		msg, err := b.inbox.Receive(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w after %s", ErrSocketUnavailable, b.config.SocketWait)
		}
		b.apply(ctx, msg)
	}

	b.logger.Info("Broadcaster received socket",
		slog.String("address", b.conn.LocalAddr().String()),
		slog.Bool("streaming", b.enabled),
	)

	return nil
}

func (b *Broadcaster) apply(ctx context.Context, msg control.Message) {
	b.metrics.RecordControlMessage(msg.Kind().String())

	switch m := msg.(type) {
	case control.SocketHandle:
		b.conn = m.Conn
		b.stats.SocketReady = true

	case control.RegistrySnapshot:
		b.subscribers = m.Entries
		b.logger.Debug("Subscriber list updated", slog.Int("subscribers", m.Entries.ActiveCount()))

	case control.StreamStateChanged:
		if m.Enabled == b.enabled {
			return
		}
		b.enabled = m.Enabled
		b.metrics.RecordStreamState(m.Enabled)
		b.logger.Info("Stream state changed",
			slog.Bool("streaming", m.Enabled),
			slog.Int("subscribers", b.subscribers.ActiveCount()),
		)
		b.notify(ctx)

	default:
		b.logger.Warn("Ignoring unexpected control message", slog.String("kind", msg.Kind().String()))
		return
	}

	b.publishStatus()
}

// notify tells every subscriber the current stream state with a zero length packet
func (b *Broadcaster) notify(ctx context.Context) {
	if b.conn == nil {
		return
	}

	data, err := protocol.NewControlPacket(true, b.enabled).MarshalBinary()
	if err != nil {
		b.logger.Error("Failed to encode notification", slog.String("error", err.Error()))
		return
	}

	for _, entry := range b.subscribers.ActiveEntries() {
		if err := b.send(data, entry.Addr); err != nil && ctx.Err() == nil {
			b.metrics.RecordSendFailure()
			b.stats.SendFailures++
			b.logger.Warn("Failed to notify subscriber",
				slog.String("remote_addr", entry.Addr.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sendFrame sends every fragment, in order, to every active subscriber
func (b *Broadcaster) sendFrame(ctx context.Context, frame []byte) {
	active := b.subscribers.ActiveEntries()
	if len(active) == 0 {
		return
	}

	start := time.Now()

	fragments := protocol.Fragment(frame)
	datagrams := make([][]byte, 0, len(fragments))
	for _, f := range fragments {
		data, err := f.MarshalBinary()
		if err != nil {
			b.logger.Error("Failed to encode fragment", slog.String("error", err.Error()))
			return
		}
		datagrams = append(datagrams, data)
	}

	sent, failed := 0, 0
	failedAddrs := make(map[netip.AddrPort]error)
	for _, data := range datagrams {
		for _, entry := range active {
			if err := b.send(data, entry.Addr); err != nil {
				failed++
				failedAddrs[entry.Addr] = err
				continue
			}
			sent++
		}
	}

	if ctx.Err() == nil {
		for addr, err := range failedAddrs {
			b.logger.Warn("Failed to send frame to subscriber",
				slog.String("remote_addr", addr.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	b.metrics.RecordFanout(sent, failed, time.Since(start).Seconds())

	b.stats.FramesSent++
	b.stats.FragmentsSent += uint64(sent)
	b.stats.SendFailures += uint64(failed)
	b.stats.LastFrameAt = time.Now()
	b.publishStatus()
}

func (b *Broadcaster) send(data []byte, to netip.AddrPort) error {
	_, err := b.conn.WriteToUDPAddrPort(data, to)
	return err
}

func (b *Broadcaster) publishStatus() {
	if b.status == nil {
		return
	}

	s := b.stats
	s.Streaming = b.enabled
	s.Subscribers = b.subscribers
	b.status.publish(s)
}
