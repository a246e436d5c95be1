package client

import (
	"fmt"
	"io"

	"github.com/gookit/color"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/config"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/protocol"
)

// clearScreen moves the cursor home and clears the terminal
const clearScreen = "\033[1;1H\033[2J"

// Display prints frames and user notices
type Display struct {
	out         io.Writer
	mode        string
	reassembler *protocol.Reassembler
}

// NewDisplay creates a display in immediate or buffered mode
func NewDisplay(out io.Writer, mode string) *Display {
	d := &Display{out: out, mode: mode}
	if mode == config.ModeBuffered {
		d.reassembler = protocol.NewReassembler()
	}
	return d
}

// Fragment shows one stream packet. Immediate mode prints the payload as it
// arrives and clears the screen after the last fragment of a frame. Buffered mode
// prints whole frames only.
func (d *Display) Fragment(p *protocol.FramePacket) {
	if d.reassembler == nil {
		d.out.Write(p.Payload)
		if p.Options.Stop {
			io.WriteString(d.out, clearScreen)
		}
		return
	}

	frame, ok := d.reassembler.Add(p)
	if !ok {
		return
	}
	io.WriteString(d.out, clearScreen)
	d.out.Write(frame)
}

// Reset drops any partially received frame
func (d *Display) Reset() {
	if d.reassembler != nil {
		d.reassembler.Reset()
	}
}

// Prompt asks for the server address
func (d *Display) Prompt() {
	fmt.Fprint(d.out, "Enter server IP address: ")
}

// InvalidAddress reports an address that did not parse
func (d *Display) InvalidAddress() {
	fmt.Fprintln(d.out, color.Red.Sprint("Wrong IP format!"))
}

// Subscribing announces the subscription request to server
func (d *Display) Subscribing(server string) {
	fmt.Fprintf(d.out, "\nSubscribing to server %s...\nWaiting for an answer...\n", server)
}

// Streaming reports an accepted subscription with the stream running
func (d *Display) Streaming() {
	fmt.Fprintln(d.out, color.Green.Sprint("Enjoy!"))
}

// Waiting reports an accepted subscription while the stream is paused
func (d *Display) Waiting() {
	fmt.Fprintln(d.out, color.Yellow.Sprint("You are subscribed, but no stream is available at the moment."))
	fmt.Fprintln(d.out, color.Yellow.Sprint("Please wait for the stream..."))
}

// Paused reports that the server paused the stream
func (d *Display) Paused() {
	fmt.Fprintln(d.out, color.Yellow.Sprint("Stream paused, no more data to display."))
}

// Rejected reports a subscription refused because the server is full
func (d *Display) Rejected() {
	fmt.Fprintln(d.out, color.Red.Sprint("Subscription refused, too many subscribers already. Please come back later."))
}

// Unavailable reports that the server did not answer
func (d *Display) Unavailable() {
	fmt.Fprintln(d.out, color.Red.Sprint("Server unavailable!"))
}

// Bye is printed on shutdown
func (d *Display) Bye() {
	fmt.Fprintln(d.out, "Bye bye!")
}
