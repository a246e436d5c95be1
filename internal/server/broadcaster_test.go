package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/control"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/metrics"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/protocol"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/registry"
)

type broadcasterHarness struct {
	b      *Broadcaster
	box    *control.Mailbox
	status *StatusBoard
	conn   *net.UDPConn
	cancel context.CancelFunc
	done   chan error
}

func startBroadcaster(t *testing.T, cfg BroadcasterConfig, open SourceOpener) *broadcasterHarness {
	t.Helper()

	if cfg.FrameSize == 0 {
		cfg.FrameSize = 3204
	}
	if cfg.SocketWait == 0 {
		cfg.SocketWait = 2 * time.Second
	}
	if cfg.EOFBackoff == 0 {
		cfg.EOFBackoff = 5 * time.Millisecond
	}

	h := &broadcasterHarness{
		box:    control.NewMailbox("broadcaster", 16),
		status: NewStatusBoard(),
		conn:   listenClient(t),
		done:   make(chan error, 1),
	}
	h.b = NewBroadcaster(cfg, h.box, open, h.status, testLogger(), metrics.NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.b.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("Broadcaster did not stop")
		}
	})

	h.send(t, control.SocketHandle{Conn: h.conn})
	return h
}

func (h *broadcasterHarness) send(t *testing.T, msg control.Message) {
	t.Helper()
	if err := h.box.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func snapshotOf(t *testing.T, clients ...*net.UDPConn) control.RegistrySnapshot {
	t.Helper()

	reg := registry.New(registry.DefaultCapacity)
	for _, c := range clients {
		if _, err := reg.Add(c.LocalAddr().(*net.UDPAddr).AddrPort()); err != nil {
			t.Fatal(err)
		}
	}
	return control.RegistrySnapshot{Entries: reg.Snapshot()}
}

// emptySource returns end of file on every read
func emptySource(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func TestBroadcasterSocketWaitTimeout(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{FrameSize: 16, SocketWait: 50 * time.Millisecond},
		control.NewMailbox("broadcaster", 1), emptySource, nil, testLogger(), metrics.NewMetrics())

	err := b.Run(context.Background())
	if !errors.Is(err, ErrSocketUnavailable) {
		t.Errorf("Expected ErrSocketUnavailable, got %v", err)
	}
}

func TestBroadcasterFansOutFrames(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	open := func(context.Context) (io.ReadCloser, error) { return reader, nil }
	h := startBroadcaster(t, BroadcasterConfig{InitiallyEnabled: true}, open)

	a, b := listenClient(t), listenClient(t)
	h.send(t, snapshotOf(t, a, b))

	frame := bytes.Repeat([]byte("#"), 3204)
	// the first read may happen before the snapshot is applied
	go func() {
		for i := 0; i < 3; i++ {
			if _, err := writer.Write(frame); err != nil {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()

	for _, client := range []*net.UDPConn{a, b} {
		r := protocol.NewReassembler()
		for {
			p := readPacket(t, client, 2*time.Second)
			if got, ok := r.Add(p); ok {
				if !bytes.Equal(got, frame) {
					t.Errorf("Reassembled frame differs: %d bytes", len(got))
				}
				break
			}
		}
	}

	deadline := time.Now().Add(time.Second)
	for h.status.Load().FramesSent == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.status.Load().FramesSent == 0 {
		t.Error("Status board not updated after a frame")
	}
}

func TestBroadcasterFragmentOrder(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	open := func(context.Context) (io.ReadCloser, error) { return reader, nil }
	h := startBroadcaster(t, BroadcasterConfig{}, open)

	client := listenClient(t)
	h.send(t, snapshotOf(t, client))
	h.send(t, control.StreamStateChanged{Enabled: true, At: time.Now()})

	if p := readPacket(t, client, 2*time.Second); p.Options != (protocol.Options{Sub: true, Stream: true}) {
		t.Fatalf("Expected resume notification, got %s", p)
	}

	go writer.Write(bytes.Repeat([]byte("x"), 2500))

	want := []protocol.Options{
		{Sub: true, Stream: true, Start: true},
		{Sub: true, Stream: true},
		{Sub: true, Stream: true, Stop: true},
	}
	for i, opts := range want {
		p := readPacket(t, client, 2*time.Second)
		if p.Options != opts {
			t.Errorf("Fragment %d: expected %s, got %s", i, opts, p.Options)
		}
	}
}

func TestBroadcasterNotifiesStateChanges(t *testing.T) {
	h := startBroadcaster(t, BroadcasterConfig{}, emptySource)

	client := listenClient(t)
	h.send(t, snapshotOf(t, client))

	h.send(t, control.StreamStateChanged{Enabled: true, At: time.Now()})
	p := readPacket(t, client, 2*time.Second)
	if p.Options != (protocol.Options{Sub: true, Stream: true}) || len(p.Payload) != 0 {
		t.Errorf("Expected zero length SUB|STREAM, got %s", p)
	}

	h.send(t, control.StreamStateChanged{Enabled: false, At: time.Now()})
	p = readPacket(t, client, 2*time.Second)
	if p.Options != (protocol.Options{Sub: true}) || len(p.Payload) != 0 {
		t.Errorf("Expected zero length SUB, got %s", p)
	}

	// repeating the current state sends nothing
	h.send(t, control.StreamStateChanged{Enabled: false, At: time.Now()})
	if _, err := tryReadPacket(client, 200*time.Millisecond); err == nil {
		t.Error("Unexpected notification for an unchanged state")
	}
}

func TestBroadcasterAppliesMessagesBeforeSocket(t *testing.T) {
	box := control.NewMailbox("broadcaster", 16)
	status := NewStatusBoard()
	b := NewBroadcaster(BroadcasterConfig{FrameSize: 16, SocketWait: 2 * time.Second, EOFBackoff: 5 * time.Millisecond},
		box, emptySource, status, testLogger(), metrics.NewMetrics())

	client := listenClient(t)
	ctx := context.Background()
	box.Send(ctx, snapshotOf(t, client))
	box.Send(ctx, control.StreamStateChanged{Enabled: true, At: time.Now()})
	box.Send(ctx, control.SocketHandle{Conn: listenClient(t)})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- b.Run(runCtx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !status.Load().SocketReady && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	s := status.Load()
	if !s.Streaming || s.Subscribers.ActiveCount() != 1 {
		t.Errorf("Early messages lost: streaming=%v subscribers=%d", s.Streaming, s.Subscribers.ActiveCount())
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestBroadcasterStopsWhileReading(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	open := func(context.Context) (io.ReadCloser, error) { return reader, nil }
	h := startBroadcaster(t, BroadcasterConfig{InitiallyEnabled: true}, open)

	time.Sleep(50 * time.Millisecond)
	h.cancel()

	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
		h.done <- nil
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcaster blocked in Read after cancellation")
	}
}

// countingSource never blocks and counts every Read
type countingSource struct {
	reads atomic.Int64
}

func (c *countingSource) Read(p []byte) (int, error) {
	c.reads.Add(1)
	return copy(p, "frame"), nil
}

func (c *countingSource) Close() error { return nil }

func waitForReads(t *testing.T, src *countingSource, above int64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for src.reads.Load() <= above {
		if time.Now().After(deadline) {
			t.Fatalf("Source reads stuck at %d", src.reads.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcasterDoesNotReadWhilePaused(t *testing.T) {
	src := &countingSource{}
	opens := atomic.Int64{}
	open := func(context.Context) (io.ReadCloser, error) {
		opens.Add(1)
		return src, nil
	}
	h := startBroadcaster(t, BroadcasterConfig{InitiallyEnabled: true}, open)

	waitForReads(t, src, 0)

	h.send(t, control.StreamStateChanged{Enabled: false, At: time.Now()})
	deadline := time.Now().Add(2 * time.Second)
	for h.status.Load().Streaming && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	paused := src.reads.Load()
	time.Sleep(300 * time.Millisecond)
	if got := src.reads.Load(); got != paused {
		t.Errorf("Source read %d times while paused", got-paused)
	}

	h.send(t, control.StreamStateChanged{Enabled: true, At: time.Now()})
	waitForReads(t, src, paused)

	if got := opens.Load(); got != 1 {
		t.Errorf("Expected the source to stay open across the pause, opened %d times", got)
	}
}

func TestBroadcasterAppliesMessagesWhileOpenBlocks(t *testing.T) {
	open := func(ctx context.Context) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	h := startBroadcaster(t, BroadcasterConfig{InitiallyEnabled: true}, open)

	client := listenClient(t)
	h.send(t, snapshotOf(t, client))
	h.send(t, control.StreamStateChanged{Enabled: false, At: time.Now()})

	p := readPacket(t, client, 2*time.Second)
	if p.Options != (protocol.Options{Sub: true}) {
		t.Errorf("Expected pause notification, got %s", p)
	}
	if s := h.status.Load(); s.Streaming || s.Subscribers.ActiveCount() != 1 {
		t.Errorf("Messages not applied: streaming=%v subscribers=%d", s.Streaming, s.Subscribers.ActiveCount())
	}
}
