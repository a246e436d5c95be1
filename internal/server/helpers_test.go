package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/control"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dialClient opens a client socket connected to addr
func dialClient(t *testing.T, addr net.Addr) *net.UDPConn {
	t.Helper()

	conn, err := net.DialUDP("udp", nil, addr.(*net.UDPAddr))
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

// listenClient opens an unconnected socket on loopback
func listenClient(t *testing.T) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func sendCommand(t *testing.T, conn *net.UDPConn, cmd protocol.Command) {
	t.Helper()

	if _, err := conn.Write(protocol.EncodeCommand(cmd)); err != nil {
		t.Fatalf("Failed to send %s: %v", cmd, err)
	}
}

// readPacket reads one server packet or fails after timeout
func readPacket(t *testing.T, conn *net.UDPConn, timeout time.Duration) *protocol.FramePacket {
	t.Helper()

	p, err := tryReadPacket(conn, timeout)
	if err != nil {
		t.Fatalf("Failed to read packet: %v", err)
	}
	return p
}

func tryReadPacket(conn *net.UDPConn, timeout time.Duration) (*protocol.FramePacket, error) {
	buf := make([]byte, protocol.PacketSize*2)

	conn.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}

	return protocol.ParseFramePacket(buf[:n])
}

// receiveMessage pulls one message from the mailbox or fails
func receiveMessage(t *testing.T, box *control.Mailbox) control.Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg, err := box.Receive(ctx)
	if err != nil {
		t.Fatalf("No message on %s: %v", box.Name(), err)
	}
	return msg
}
