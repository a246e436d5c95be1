package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// frameReader owns the frame source on its own goroutine so that a blocking
// open or read never holds up the broadcaster's control messages.
// It reads exactly one frame per request and keeps the source open between requests.
type frameReader struct {
	open    SourceOpener
	backoff time.Duration
	logger  *slog.Logger

	buffer   []byte
	requests chan struct{}
	frames   chan []byte
	done     chan struct{}

	source     io.ReadCloser
	stopSource func() bool
}

func newFrameReader(open SourceOpener, frameSize int, backoff time.Duration, logger *slog.Logger) *frameReader {
	return &frameReader{
		open:     open,
		backoff:  backoff,
		logger:   logger,
		buffer:   make([]byte, frameSize),
		requests: make(chan struct{}, 1),
		frames:   make(chan []byte),
		done:     make(chan struct{}),
	}
}

// request asks for the next frame. At most one request may be outstanding.
func (r *frameReader) request() {
	select {
	case r.requests <- struct{}{}:
	default:
	}
}

// run serves requests until ctx is done. The slice sent on frames is reused,
// so the consumer must be done with it before issuing the next request.
func (r *frameReader) run(ctx context.Context) {
	defer close(r.done)
	defer r.closeSource()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.requests:
		}

		frame, ok := r.next(ctx)
		if !ok {
			return
		}

		select {
		case r.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// next opens the source if needed and reads one non-empty frame
func (r *frameReader) next(ctx context.Context) ([]byte, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}

		if r.source == nil {
			if err := r.openSource(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, false
				}
				r.logger.Error("Failed to open frame source", slog.String("error", err.Error()))
				if !sleepContext(ctx, r.backoff) {
					return nil, false
				}
				continue
			}
		}

		n, err := r.source.Read(r.buffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			if errors.Is(err, io.EOF) {
				r.logger.Debug("Frame source at end of file, waiting for producer")
			} else {
				r.logger.Error("Failed to read frame", slog.String("error", err.Error()))
				r.closeSource()
			}
			if !sleepContext(ctx, r.backoff) {
				return nil, false
			}
			continue
		}
		if n == 0 {
			continue
		}

		return r.buffer[:n], true
	}
}

func (r *frameReader) openSource(ctx context.Context) error {
	source, err := r.open(ctx)
	if err != nil {
		return err
	}

	r.source = source
	// a blocked Read only returns once the source is closed
	r.stopSource = context.AfterFunc(ctx, func() { source.Close() })
	r.logger.Info("Frame source opened")

	return nil
}

func (r *frameReader) closeSource() {
	if r.source == nil {
		return
	}
	source, stop := r.source, r.stopSource
	r.source, r.stopSource = nil, nil

	if stop != nil && !stop() {
		// already closed by cancellation
		return
	}
	if err := source.Close(); err != nil {
		r.logger.Debug("Error closing frame source", slog.String("error", err.Error()))
	}
}
