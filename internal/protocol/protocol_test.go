package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestEncodeOptions(t *testing.T) {
	tests := []struct {
		name     string
		sub      bool
		stream   bool
		start    bool
		stop     bool
		expected uint32
	}{
		{name: "all clear (denial)", expected: 0},
		{name: "subscription ack", sub: true, expected: 1},
		{name: "stream available", sub: true, stream: true, expected: 3},
		{name: "first fragment", sub: true, stream: true, start: true, expected: 7},
		{name: "last fragment", sub: true, stream: true, stop: true, expected: 11},
		{name: "single fragment frame", sub: true, stream: true, start: true, stop: true, expected: 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeOptions(tt.sub, tt.stream, tt.start, tt.stop)
			if got != tt.expected {
				t.Errorf("Expected options %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestOptionsRoundTrip(t *testing.T) {
	for v := 0; v < 16; v++ {
		sub, stream, start, stop := v&1 != 0, v&2 != 0, v&4 != 0, v&8 != 0

		got := DecodeOptions(EncodeOptions(sub, stream, start, stop))
		want := Options{Sub: sub, Stream: stream, Start: start, Stop: stop}
		if got != want {
			t.Errorf("Round trip of %+v returned %+v", want, got)
		}
	}
}

func TestDecodeOptionsIgnoresReservedBits(t *testing.T) {
	got := DecodeOptions(0xFFFFFFF0 | 1<<StreamBit)
	want := Options{Stream: true}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    Command
		expectError bool
	}{
		{name: "subscribe", data: []byte{0x01, 0x00, 0x00, 0x00}, expected: CommandSubscribe},
		{name: "unsubscribe", data: []byte{0x00, 0x00, 0x00, 0x00}, expected: CommandUnsubscribe},
		{name: "trailing bytes ignored", data: []byte{0x01, 0x00, 0x00, 0x00, 0xFF}, expected: CommandSubscribe},
		{name: "unknown value", data: []byte{0x02, 0x00, 0x00, 0x00}, expectError: true},
		{name: "too short", data: []byte{0x01}, expectError: true},
		{name: "empty", data: []byte{}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand(tt.data)

			if tt.expectError {
				if !errors.Is(err, ErrMalformedCommand) {
					t.Errorf("Expected ErrMalformedCommand, got %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if cmd != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, cmd)
			}
		})
	}
}

func TestEncodeCommand(t *testing.T) {
	data := EncodeCommand(CommandSubscribe)
	if len(data) != CommandSize {
		t.Fatalf("Expected %d bytes, got %d", CommandSize, len(data))
	}
	if binary.LittleEndian.Uint32(data) != CommandSubscribe {
		t.Errorf("Expected little endian SUBSCRIBE, got %v", data)
	}
}

func TestFramePacketMarshal(t *testing.T) {
	packet := &FramePacket{
		Options: Options{Sub: true, Stream: true, Stop: true},
		Payload: []byte("#%@.."),
	}

	data, err := packet.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	if len(data) != PacketSize {
		t.Errorf("Expected %d byte datagram, got %d", PacketSize, len(data))
	}
	if got := binary.LittleEndian.Uint32(data[0:4]); got != 11 {
		t.Errorf("Expected options 11, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != 5 {
		t.Errorf("Expected length 5, got %d", got)
	}

	oversized := &FramePacket{Payload: make([]byte, MaxPayload+1)}
	if _, err := oversized.MarshalBinary(); err == nil {
		t.Error("Expected error for oversized payload")
	}
}

func TestParseFramePacket(t *testing.T) {
	valid := make([]byte, PacketSize)
	binary.LittleEndian.PutUint32(valid[0:], 3)
	binary.LittleEndian.PutUint32(valid[4:], 4)
	copy(valid[8:], "abcdGARBAGE")

	tests := []struct {
		name        string
		data        []byte
		expectError bool
		validate    func(*FramePacket) bool
	}{
		{
			name: "payload truncated to declared length",
			data: valid,
			validate: func(p *FramePacket) bool {
				return p.Options.Sub && p.Options.Stream && string(p.Payload) == "abcd"
			},
		},
		{
			name: "zero length control packet",
			data: createControlPacket(t, 1),
			validate: func(p *FramePacket) bool {
				return p.Options.Sub && !p.Options.Stream && len(p.Payload) == 0
			},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
		},
		{
			name:        "length beyond maximum",
			data:        createLengthPacket(t, MaxPayload+1, PacketSize),
			expectError: true,
		},
		{
			name:        "length beyond datagram",
			data:        createLengthPacket(t, 100, PacketHeaderSize+10),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseFramePacket(tt.data)

			if tt.expectError {
				if !errors.Is(err, ErrMalformedPacket) {
					t.Errorf("Expected ErrMalformedPacket, got %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if tt.validate != nil && !tt.validate(p) {
				t.Errorf("Validation failed for packet: %s", p)
			}
		})
	}
}

func TestStringMethods(t *testing.T) {
	opts := Options{Sub: true, Stop: true}
	if s := opts.String(); s != "Options{SUB|STOP}" {
		t.Errorf("Unexpected Options.String(): %s", s)
	}

	if s := (Options{}).String(); s != "Options{}" {
		t.Errorf("Unexpected empty Options.String(): %s", s)
	}

	if s := Command(7).String(); !strings.Contains(s, "Unknown") {
		t.Errorf("Unexpected Command.String(): %s", s)
	}

	p := &FramePacket{Options: opts, Payload: make([]byte, 42)}
	if s := p.String(); !strings.Contains(s, "42") || !strings.Contains(s, "SUB") {
		t.Errorf("FramePacket.String() missing expected content: %s", s)
	}
}

func TestMarshalParseKeepsPayload(t *testing.T) {
	payload := bytes.Repeat([]byte("@"), MaxPayload)
	data, err := (&FramePacket{Options: Options{Sub: true, Stream: true}, Payload: payload}).MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	p, err := ParseFramePacket(data)
	if err != nil {
		t.Fatalf("ParseFramePacket failed: %v", err)
	}
	if !bytes.Equal(p.Payload, payload) {
		t.Error("Full payload was not preserved")
	}
}

// Helper functions for tests

func createControlPacket(t *testing.T, options uint32) []byte {
	t.Helper()

	data := make([]byte, PacketSize)
	binary.LittleEndian.PutUint32(data[0:], options)
	return data
}

func createLengthPacket(t *testing.T, length uint32, size int) []byte {
	t.Helper()

	data := make([]byte, size)
	binary.LittleEndian.PutUint32(data[0:], 3)
	binary.LittleEndian.PutUint32(data[4:], length)
	return data
}
