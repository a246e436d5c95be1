package hardware

import (
	"fmt"
	"log/slog"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/config"
)

// Device is a bank of digital inputs and outputs
type Device interface {
	// ReadInputs returns the current state of every input, true when pressed
	ReadInputs() ([]bool, error)

	// WriteOutputs sets every output, true when lit
	WriteOutputs(states []bool) error

	Close() error
}

// Open creates the device selected by cfg.Driver. It returns nil for the none driver.
func Open(cfg config.ButtonConfig, logger *slog.Logger) (Device, error) {
	switch cfg.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverCharDev:
		dev, err := OpenCharDevice(cfg.DevicePath, cfg.Inputs, cfg.Outputs)
		if err != nil {
			return nil, err
		}
		return dev, nil
	case config.DriverMQTT:
		sw, err := DialMQTTSwitch(cfg, logger)
		if err != nil {
			return nil, err
		}
		return sw, nil
	default:
		return nil, fmt.Errorf("unknown button driver %q", cfg.Driver)
	}
}
