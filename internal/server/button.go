package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/config"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/control"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/hardware"
)

// ButtonLoop polls the stream switch and publishes stream state transitions
type ButtonLoop struct {
	device  hardware.Device
	config  *config.ButtonConfig
	logger  *slog.Logger
	out     *control.Mailbox
	enabled bool
}

// NewButtonLoop creates a button loop starting from the given stream state
func NewButtonLoop(device hardware.Device, cfg *config.ButtonConfig, out *control.Mailbox, initiallyEnabled bool, logger *slog.Logger) *ButtonLoop {
	return &ButtonLoop{
		device:  device,
		config:  cfg,
		logger:  logger,
		out:     out,
		enabled: initiallyEnabled,
	}
}

// Run polls until ctx is done. A released to pressed edge on the enable input
// while disabled enables the stream, and on the disable input while enabled
// disables it. Edges on both inputs in the same poll are ignored.
func (b *ButtonLoop) Run(ctx context.Context) error {
	if err := b.writeLED(); err != nil {
		b.logger.Warn("Failed to set stream LED", slog.String("error", err.Error()))
	}

	var (
		enableWasPressed  bool
		disableWasPressed bool
		failing           bool
	)

	for {
		inputs, err := b.device.ReadInputs()
		if err != nil {
			if !failing {
				b.logger.Error("Failed to read buttons", slog.String("error", err.Error()))
				failing = true
			}
			if !sleepContext(ctx, b.config.PollInterval) {
				return nil
			}
			continue
		}
		if failing {
			b.logger.Info("Button reads recovered")
			failing = false
		}

		if len(inputs) <= b.config.EnableInput || len(inputs) <= b.config.DisableInput {
			return fmt.Errorf("device reports %d inputs, need indices %d and %d",
				len(inputs), b.config.EnableInput, b.config.DisableInput)
		}

		enablePressed := inputs[b.config.EnableInput]
		disablePressed := inputs[b.config.DisableInput]

		enableEdge := enablePressed && !enableWasPressed
		disableEdge := disablePressed && !disableWasPressed
		enableWasPressed, disableWasPressed = enablePressed, disablePressed

		changed := false
		switch {
		case enableEdge && disableEdge:
			b.logger.Debug("Ignoring simultaneous enable and disable presses")
		case enableEdge && !b.enabled:
			b.enabled = true
			changed = true
		case disableEdge && b.enabled:
			b.enabled = false
			changed = true
		}

		if changed {
			b.logger.Info("Stream switched", slog.Bool("enabled", b.enabled))

			if err := b.writeLED(); err != nil {
				b.logger.Warn("Failed to set stream LED", slog.String("error", err.Error()))
			}

			msg := control.StreamStateChanged{Enabled: b.enabled, At: time.Now()}
			if err := b.out.Send(ctx, msg); err != nil {
				return nil
			}

			if !sleepContext(ctx, b.config.DebounceInterval) {
				return nil
			}
		}

		if !sleepContext(ctx, b.config.PollInterval) {
			return nil
		}
	}
}

// Enabled returns the stream state as last decided by the loop. Call it only
// while Run is not executing.
func (b *ButtonLoop) Enabled() bool {
	return b.enabled
}

func (b *ButtonLoop) writeLED() error {
	outputs := make([]bool, b.config.Outputs)
	if b.config.LEDOutput < len(outputs) {
		outputs[b.config.LEDOutput] = b.enabled
	}
	return b.device.WriteOutputs(outputs)
}

// sleepContext waits for d and reports false when ctx ended first
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
