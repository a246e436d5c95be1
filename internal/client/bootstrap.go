package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/control"
)

// ErrInvalidAddress is returned for text that is not an IPv4 address
var ErrInvalidAddress = errors.New("invalid server address")

// ParseServerAddress parses "a.b.c.d" or "a.b.c.d:port". defaultPort is used when
// no port is given.
func ParseServerAddress(text string, defaultPort int) (netip.AddrPort, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return netip.AddrPort{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	host, port := text, defaultPort
	if i := strings.LastIndexByte(text, ':'); i >= 0 {
		p, err := strconv.Atoi(text[i+1:])
		if err != nil || p < 1 || p > 65535 {
			return netip.AddrPort{}, fmt.Errorf("%w: bad port in %q", ErrInvalidAddress, text)
		}
		host, port = text[:i], p
	}

	addr, err := netip.ParseAddr(host)
	if err != nil || !addr.Is4() {
		return netip.AddrPort{}, fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidAddress, host)
	}

	return netip.AddrPortFrom(addr, uint16(port)), nil
}

// Bootstrap asks for the server address until a valid one is entered and hands it
// to the session loop
type Bootstrap struct {
	in      io.Reader
	display *Display
	out     *control.Mailbox
	port    int
	prefill string
	logger  *slog.Logger
}

// NewBootstrap creates a bootstrap loop. A non-empty prefill is tried before prompting.
func NewBootstrap(in io.Reader, display *Display, out *control.Mailbox, port int, prefill string, logger *slog.Logger) *Bootstrap {
	return &Bootstrap{
		in:      in,
		display: display,
		out:     out,
		port:    port,
		prefill: prefill,
		logger:  logger,
	}
}

// Run publishes one ServerAddressResolved and returns
func (b *Bootstrap) Run(ctx context.Context) error {
	if b.prefill != "" {
		addr, err := ParseServerAddress(b.prefill, b.port)
		if err == nil {
			return b.publish(ctx, addr)
		}
		b.logger.Warn("Ignoring invalid server address", slog.String("address", b.prefill))
		b.display.InvalidAddress()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(b.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	b.display.Prompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errors.New("input closed before a server address was entered")
			}

			addr, err := ParseServerAddress(line, b.port)
			if err != nil {
				b.logger.Debug("Rejected address", slog.String("error", err.Error()))
				b.display.InvalidAddress()
				b.display.Prompt()
				continue
			}

			return b.publish(ctx, addr)
		}
	}
}

func (b *Bootstrap) publish(ctx context.Context, addr netip.AddrPort) error {
	b.logger.Debug("Server address resolved", slog.String("address", addr.String()))
	return b.out.Send(ctx, control.ServerAddressResolved{Addr: addr})
}
