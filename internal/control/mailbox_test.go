package control

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"
)

func TestMailboxFIFO(t *testing.T) {
	m := NewMailbox("broadcaster", 8)
	ctx := context.Background()

	sent := []Message{
		StreamStateChanged{Enabled: true},
		RegistrySnapshot{},
		StreamStateChanged{Enabled: false},
	}
	for _, msg := range sent {
		if err := m.Send(ctx, msg); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	if m.Len() != len(sent) {
		t.Errorf("Expected %d pending, got %d", len(sent), m.Len())
	}

	for i, want := range sent {
		got, ok := m.TryReceive()
		if !ok {
			t.Fatalf("Message %d missing", i)
		}
		if got.Kind() != want.Kind() {
			t.Errorf("Message %d: expected %s, got %s", i, want.Kind(), got.Kind())
		}
	}

	if _, ok := m.TryReceive(); ok {
		t.Error("TryReceive on empty mailbox returned a message")
	}

	first := sent[0].(StreamStateChanged)
	if !first.Enabled {
		t.Error("Payload lost in hand-off")
	}
}

func TestMailboxReceiveCancelled(t *testing.T) {
	m := NewMailbox("session", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := m.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestMailboxSendBlocksWhenFull(t *testing.T) {
	m := NewMailbox("session", 1)
	addr := netip.MustParseAddrPort("127.0.0.1:1234")

	if err := m.Send(context.Background(), ServerAddressResolved{Addr: addr}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Send(ctx, ServerAddressResolved{Addr: addr}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected full mailbox to block until deadline, got %v", err)
	}

	msg, err := m.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	resolved, ok := msg.(ServerAddressResolved)
	if !ok || resolved.Addr != addr {
		t.Errorf("Unexpected message %#v", msg)
	}
}

func TestKindString(t *testing.T) {
	tests := map[Kind]string{
		KindSocketHandle:          "socket_handle",
		KindRegistrySnapshot:      "registry_snapshot",
		KindStreamStateChanged:    "stream_state_changed",
		KindServerAddressResolved: "server_address_resolved",
		Kind(99):                  "unknown(99)",
	}

	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}
