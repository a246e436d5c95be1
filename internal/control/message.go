package control

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/registry"
)

// Kind identifies the variant of a Message
type Kind int

const (
	KindSocketHandle Kind = iota + 1
	KindRegistrySnapshot
	KindStreamStateChanged
	KindServerAddressResolved
)

// String returns the kind name used in logs and metric labels
func (k Kind) String() string {
	switch k {
	case KindSocketHandle:
		return "socket_handle"
	case KindRegistrySnapshot:
		return "registry_snapshot"
	case KindStreamStateChanged:
		return "stream_state_changed"
	case KindServerAddressResolved:
		return "server_address_resolved"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Message is one of SocketHandle, RegistrySnapshot, StreamStateChanged or
// ServerAddressResolved. Consumers match it with a type switch.
type Message interface {
	Kind() Kind
	isMessage()
}

// SocketHandle hands the listener's UDP socket to the broadcaster.
// The listener keeps ownership and closes it.
type SocketHandle struct {
	Conn *net.UDPConn
}

// RegistrySnapshot carries a copy of the subscriber table
type RegistrySnapshot struct {
	Entries registry.Snapshot
}

// StreamStateChanged reports a new stream enable state from the button loop
type StreamStateChanged struct {
	Enabled bool
	At      time.Time
}

// ServerAddressResolved carries the validated server address on the client
type ServerAddressResolved struct {
	Addr netip.AddrPort
}

func (SocketHandle) Kind() Kind          { return KindSocketHandle }
func (RegistrySnapshot) Kind() Kind      { return KindRegistrySnapshot }
func (StreamStateChanged) Kind() Kind    { return KindStreamStateChanged }
func (ServerAddressResolved) Kind() Kind { return KindServerAddressResolved }

func (SocketHandle) isMessage()          {}
func (RegistrySnapshot) isMessage()      {}
func (StreamStateChanged) isMessage()    {}
func (ServerAddressResolved) isMessage() {}
