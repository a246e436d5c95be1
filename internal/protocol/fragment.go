package protocol

import (
	"fmt"
)

// maxFrameFragments bounds the memory a Reassembler holds for one frame
const maxFrameFragments = 64

// Fragment splits a rendered frame into stream packets of at most MaxPayload bytes.
// Every packet has Sub and Stream set, the first has Start and the last has Stop.
// An empty frame yields no packets.
func Fragment(frame []byte) []*FramePacket {
	if len(frame) == 0 {
		return nil
	}

	total := (len(frame) + MaxPayload - 1) / MaxPayload
	packets := make([]*FramePacket, 0, total)

	for i := 0; i < total; i++ {
		start := i * MaxPayload
		end := start + MaxPayload
		if end > len(frame) {
			end = len(frame)
		}

		packets = append(packets, &FramePacket{
			Options: Options{
				Sub:    true,
				Stream: true,
				Start:  i == 0,
				Stop:   i == total-1,
			},
			Payload: frame[start:end],
		})
	}

	return packets
}

// Reassemble joins the payloads of one complete frame
func Reassemble(packets []*FramePacket) ([]byte, error) {
	if len(packets) == 0 {
		return nil, fmt.Errorf("no fragments")
	}
	if !packets[0].Options.Start {
		return nil, fmt.Errorf("first fragment is missing the START flag")
	}
	if !packets[len(packets)-1].Options.Stop {
		return nil, fmt.Errorf("last fragment is missing the STOP flag")
	}

	size := 0
	for _, p := range packets {
		size += len(p.Payload)
	}

	frame := make([]byte, 0, size)
	for _, p := range packets {
		frame = append(frame, p.Payload...)
	}

	return frame, nil
}

// Reassembler rebuilds frames from a stream of fragments arriving in order.
// A frame whose START or STOP fragment was lost is discarded.
type Reassembler struct {
	buf        []byte
	fragments  int
	inProgress bool

	completed uint64
	dropped   uint64
}

// NewReassembler creates an empty reassembler
func NewReassembler() *Reassembler {
	return &Reassembler{
		buf: make([]byte, 0, 4*MaxPayload),
	}
}

// Add consumes one fragment and returns the frame once its STOP fragment arrives.
// The returned slice is only valid until the next call.
func (r *Reassembler) Add(p *FramePacket) ([]byte, bool) {
	if p.Options.Start {
		if r.inProgress {
			// previous frame never saw its STOP
			r.dropped++
		}
		r.buf = r.buf[:0]
		r.fragments = 0
		r.inProgress = true
	}

	if !r.inProgress {
		// joined mid-frame, wait for the next START
		return nil, false
	}

	r.buf = append(r.buf, p.Payload...)
	r.fragments++

	if r.fragments > maxFrameFragments {
		r.dropped++
		r.Reset()
		return nil, false
	}

	if p.Options.Stop {
		r.inProgress = false
		r.completed++
		return r.buf, true
	}

	return nil, false
}

// Reset discards any partially received frame
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.fragments = 0
	r.inProgress = false
}

// Stats returns the number of completed and dropped frames
func (r *Reassembler) Stats() (completed, dropped uint64) {
	return r.completed, r.dropped
}
