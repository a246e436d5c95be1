// Package framesource prepares the named pipe that carries ASCII frames from the
// capture program to the server and manages the capture program itself.
package framesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// Prepare creates a fresh FIFO at path, replacing whatever is there
func Prepare(path string) error {
	if err := Remove(path); err != nil {
		return err
	}

	if err := unix.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("failed to create FIFO %s: %w", path, err)
	}

	// Mkfifo honours the umask; the producer may run as another user
	if err := os.Chmod(path, 0o666); err != nil {
		return fmt.Errorf("failed to set FIFO permissions on %s: %w", path, err)
	}

	return nil
}

// Remove deletes the FIFO. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove FIFO %s: %w", path, err)
	}
	return nil
}

// IsFIFO reports whether path is a named pipe
func IsFIFO(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&fs.ModeNamedPipe != 0
}

// Open opens the FIFO for reading. Opening blocks until a writer connects; when ctx
// is cancelled first a throwaway writer is attached so the open returns.
func Open(ctx context.Context, path string) (*os.File, error) {
	type result struct {
		file *os.File
		err  error
	}

	done := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		done <- result{f, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to open FIFO %s: %w", path, r.err)
		}
		return r.file, nil
	case <-ctx.Done():
	}

	if w, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
		w.Close()
	}

	if r := <-done; r.file != nil {
		r.file.Close()
	}

	return nil, ctx.Err()
}
