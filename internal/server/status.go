package server

import (
	"sync/atomic"
	"time"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/registry"
)

// Status is an immutable view of the broadcaster state for the HTTP API
type Status struct {
	Streaming     bool              `json:"streaming"`
	SocketReady   bool              `json:"socket_ready"`
	Subscribers   registry.Snapshot `json:"subscribers"`
	FramesSent    uint64            `json:"frames_sent"`
	FragmentsSent uint64            `json:"fragments_sent"`
	SendFailures  uint64            `json:"send_failures"`
	LastFrameAt   time.Time         `json:"last_frame_at,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// StatusBoard holds the latest published Status
type StatusBoard struct {
	current atomic.Pointer[Status]
}

// NewStatusBoard creates a board holding an empty status
func NewStatusBoard() *StatusBoard {
	b := &StatusBoard{}
	b.current.Store(&Status{UpdatedAt: time.Now()})
	return b
}

// Load returns the latest status
func (b *StatusBoard) Load() Status {
	return *b.current.Load()
}

func (b *StatusBoard) publish(s Status) {
	s.UpdatedAt = time.Now()
	b.current.Store(&s)
}
