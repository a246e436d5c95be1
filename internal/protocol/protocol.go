package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Protocol constants
const (
	// Options bit positions, LSB first
	SubBit    = 0 // client is subscribed
	StreamBit = 1 // stream is live
	StartBit  = 2 // first fragment of a frame
	StopBit   = 3 // last fragment of a frame

	// Client commands
	CommandUnsubscribe = 0
	CommandSubscribe   = 1

	// Packet structure sizes
	CommandSize      = 4                             // options only
	PacketHeaderSize = 8                             // options(4) + length(4)
	MaxPayload       = 1000                          // data bytes carried by one fragment
	PacketSize       = PacketHeaderSize + MaxPayload // every server datagram has this size

	// DefaultPort is the UDP port the server listens on
	DefaultPort = 1234
)

var (
	// ErrMalformedCommand is returned for client datagrams that are not a known command
	ErrMalformedCommand = errors.New("malformed command")

	// ErrMalformedPacket is returned for server datagrams that cannot be decoded
	ErrMalformedPacket = errors.New("malformed packet")
)

// Options is the decoded form of the 32-bit options field
type Options struct {
	Sub    bool
	Stream bool
	Start  bool
	Stop   bool
}

// EncodeOptions builds the options field. Bits above StopBit are always zero.
func EncodeOptions(sub, stream, start, stop bool) uint32 {
	var options uint32
	if sub {
		options |= 1 << SubBit
	}
	if stream {
		options |= 1 << StreamBit
	}
	if start {
		options |= 1 << StartBit
	}
	if stop {
		options |= 1 << StopBit
	}
	return options
}

// DecodeOptions extracts the four flags. Reserved bits are ignored.
func DecodeOptions(options uint32) Options {
	return Options{
		Sub:    options&(1<<SubBit) != 0,
		Stream: options&(1<<StreamBit) != 0,
		Start:  options&(1<<StartBit) != 0,
		Stop:   options&(1<<StopBit) != 0,
	}
}

// Encode returns the wire value of the options
func (o Options) Encode() uint32 {
	return EncodeOptions(o.Sub, o.Stream, o.Start, o.Stop)
}

// String returns a human-readable representation of the options
func (o Options) String() string {
	var flags []string
	if o.Sub {
		flags = append(flags, "SUB")
	}
	if o.Stream {
		flags = append(flags, "STREAM")
	}
	if o.Start {
		flags = append(flags, "START")
	}
	if o.Stop {
		flags = append(flags, "STOP")
	}
	if len(flags) == 0 {
		return "Options{}"
	}
	return "Options{" + strings.Join(flags, "|") + "}"
}

// Command is a client request
type Command uint32

// String returns the command name
func (c Command) String() string {
	switch c {
	case CommandSubscribe:
		return "SUBSCRIBE"
	case CommandUnsubscribe:
		return "UNSUBSCRIBE"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(c))
	}
}

// EncodeCommand serializes a client command
func EncodeCommand(cmd Command) []byte {
	buf := make([]byte, CommandSize)
	binary.LittleEndian.PutUint32(buf, uint32(cmd))
	return buf
}

// ParseCommand decodes a client datagram. Trailing bytes are ignored.
func ParseCommand(data []byte) (Command, error) {
	if len(data) < CommandSize {
		return 0, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedCommand, CommandSize, len(data))
	}

	cmd := Command(binary.LittleEndian.Uint32(data[:CommandSize]))
	if cmd != CommandSubscribe && cmd != CommandUnsubscribe {
		return cmd, fmt.Errorf("%w: unknown command value %d", ErrMalformedCommand, uint32(cmd))
	}

	return cmd, nil
}

// FramePacket is one server to client datagram
// Layout: [Options:4][Length:4][Data:MaxPayload], little endian
type FramePacket struct {
	Options Options
	Payload []byte // at most MaxPayload bytes
}

// NewControlPacket builds a zero-length packet carrying only flags
func NewControlPacket(sub, stream bool) *FramePacket {
	return &FramePacket{Options: Options{Sub: sub, Stream: stream}}
}

// MarshalBinary serializes the packet into a full PacketSize datagram
func (p *FramePacket) MarshalBinary() ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, fmt.Errorf("payload too large: %d bytes (maximum %d)", len(p.Payload), MaxPayload)
	}

	buf := make([]byte, PacketSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Options.Encode())
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(p.Payload)))
	copy(buf[PacketHeaderSize:], p.Payload)

	return buf, nil
}

// ParseFramePacket decodes a server datagram. Only the first Length data bytes are kept;
// the padding after them is never interpreted.
func ParseFramePacket(data []byte) (*FramePacket, error) {
	if len(data) < PacketHeaderSize {
		return nil, fmt.Errorf("%w: header too short: expected %d bytes, got %d",
			ErrMalformedPacket, PacketHeaderSize, len(data))
	}

	options := binary.LittleEndian.Uint32(data[0:4])
	length := binary.LittleEndian.Uint32(data[4:8])

	if length > MaxPayload {
		return nil, fmt.Errorf("%w: length %d exceeds maximum %d", ErrMalformedPacket, length, MaxPayload)
	}

	if int(length) > len(data)-PacketHeaderSize {
		return nil, fmt.Errorf("%w: length %d but only %d data bytes",
			ErrMalformedPacket, length, len(data)-PacketHeaderSize)
	}

	packet := &FramePacket{Options: DecodeOptions(options)}
	if length > 0 {
		packet.Payload = make([]byte, length)
		copy(packet.Payload, data[PacketHeaderSize:PacketHeaderSize+int(length)])
	}

	return packet, nil
}

// String returns a human-readable representation of the packet
func (p *FramePacket) String() string {
	return fmt.Sprintf("FramePacket{%s, Length:%d}", p.Options, len(p.Payload))
}
