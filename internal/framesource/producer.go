package framesource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const stopTimeout = 3 * time.Second

// Producer runs the capture program that writes frames into the FIFO
type Producer struct {
	command string
	args    []string
	logger  *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// NewProducer creates a producer for command with args
func NewProducer(command string, args []string, logger *slog.Logger) *Producer {
	return &Producer{
		command: command,
		args:    args,
		logger:  logger,
	}
}

// Start launches the program. Its output is forwarded to the logger.
func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return errors.New("producer already started")
	}

	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = stopTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to attach producer stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to attach producer stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start producer %s: %w", p.command, err)
	}

	p.cmd = cmd
	p.done = make(chan struct{})

	p.logger.Info("Frame producer started",
		slog.String("command", p.command),
		slog.Any("args", p.args),
		slog.Int("pid", cmd.Process.Pid),
	)

	var pipes sync.WaitGroup
	pipes.Add(2)
	go p.forward(&pipes, stdout, slog.LevelDebug)
	go p.forward(&pipes, stderr, slog.LevelWarn)

	go func() {
		pipes.Wait()
		err := cmd.Wait()

		p.mu.Lock()
		p.err = err
		p.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			p.logger.Error("Frame producer exited", slog.String("error", err.Error()))
		} else {
			p.logger.Info("Frame producer stopped")
		}
		close(p.done)
	}()

	return nil
}

func (p *Producer) forward(wg *sync.WaitGroup, r io.Reader, level slog.Level) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.logger.Log(context.Background(), level, "producer output", slog.String("line", scanner.Text()))
	}
}

// Done is closed when the program has exited
func (p *Producer) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stop terminates the program and waits for it to exit
func (p *Producer) Stop() error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}

	select {
	case <-done:
	default:
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to signal producer: %w", err)
		}
		select {
		case <-done:
		case <-time.After(stopTimeout):
			cmd.Process.Kill()
			<-done
		}
	}

	return nil
}
