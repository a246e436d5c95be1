package hardware

import (
	"fmt"
	"io"
	"os"
)

// Character device byte values for one input
const (
	Pressed  = 0
	Released = 1
)

// CharDevice drives the io_dd character device: a read returns one byte per button,
// a write takes one byte per LED.
type CharDevice struct {
	file    io.ReadWriteCloser
	path    string
	inputs  int
	outputs int
	in      []byte
	out     []byte
}

// OpenCharDevice opens the device node read-write
func OpenCharDevice(path string, inputs, outputs int) (*CharDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open I/O device %s: %w", path, err)
	}

	return newCharDevice(file, path, inputs, outputs), nil
}

func newCharDevice(file io.ReadWriteCloser, path string, inputs, outputs int) *CharDevice {
	return &CharDevice{
		file:    file,
		path:    path,
		inputs:  inputs,
		outputs: outputs,
		in:      make([]byte, inputs),
		out:     make([]byte, outputs),
	}
}

// ReadInputs reads the button states
func (d *CharDevice) ReadInputs() ([]bool, error) {
	n, err := d.file.Read(d.in)
	if err != nil {
		return nil, fmt.Errorf("failed to read buttons from %s: %w", d.path, err)
	}
	if n < d.inputs {
		return nil, fmt.Errorf("short read from %s: expected %d bytes, got %d", d.path, d.inputs, n)
	}

	states := make([]bool, d.inputs)
	for i, b := range d.in {
		states[i] = b == Pressed
	}

	return states, nil
}

// WriteOutputs writes the LED states
func (d *CharDevice) WriteOutputs(states []bool) error {
	if len(states) != d.outputs {
		return fmt.Errorf("expected %d output states, got %d", d.outputs, len(states))
	}

	for i, on := range states {
		if on {
			d.out[i] = 1
		} else {
			d.out[i] = 0
		}
	}

	if _, err := d.file.Write(d.out); err != nil {
		return fmt.Errorf("failed to write LEDs to %s: %w", d.path, err)
	}

	return nil
}

// Close releases the device node
func (d *CharDevice) Close() error {
	return d.file.Close()
}
