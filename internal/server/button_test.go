package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gwaeber/HasciicamSocketStreaming/internal/config"
	"github.com/gwaeber/HasciicamSocketStreaming/internal/control"
)

// scriptedDevice replays input states, repeating the last one, and records
// when each read happened
type scriptedDevice struct {
	mu      sync.Mutex
	script  [][]bool
	errs    int
	outputs [][]bool
	reads   []time.Time
}

func (d *scriptedDevice) ReadInputs() ([]bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.reads = append(d.reads, time.Now())

	if d.errs > 0 {
		d.errs--
		return nil, errors.New("device busy")
	}

	state := d.script[0]
	if len(d.script) > 1 {
		d.script = d.script[1:]
	}
	return state, nil
}

func (d *scriptedDevice) WriteOutputs(states []bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.outputs = append(d.outputs, append([]bool(nil), states...))
	return nil
}

func (d *scriptedDevice) Close() error { return nil }

func (d *scriptedDevice) lastOutputs() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.outputs) == 0 {
		return nil
	}
	return d.outputs[len(d.outputs)-1]
}

var (
	none        = []bool{false, false, false, false}
	enableDown  = []bool{true, false, false, false}
	disableDown = []bool{false, true, false, false}
	bothDown    = []bool{true, true, false, false}
)

func runButtonLoop(t *testing.T, dev *scriptedDevice, initiallyEnabled bool, d time.Duration) (*ButtonLoop, *control.Mailbox) {
	t.Helper()

	cfg := config.Default().Button
	cfg.PollInterval = time.Millisecond
	cfg.DebounceInterval = 50 * time.Millisecond

	box := control.NewMailbox("broadcaster", 16)
	loop := NewButtonLoop(dev, &cfg, box, initiallyEnabled, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	return loop, box
}

func drainStates(box *control.Mailbox) []bool {
	var states []bool
	for {
		msg, ok := box.TryReceive()
		if !ok {
			return states
		}
		if s, ok := msg.(control.StreamStateChanged); ok {
			states = append(states, s.Enabled)
		}
	}
}

func TestButtonLoopTransitions(t *testing.T) {
	tests := []struct {
		name    string
		script  [][]bool
		initial bool
		want    []bool
	}{
		{"enable press", [][]bool{none, enableDown, none}, false, []bool{true}},
		{"held button counts once", [][]bool{none, enableDown, enableDown, enableDown}, false, []bool{true}},
		{"repeated enable presses count once", [][]bool{none, enableDown, none, enableDown, none, enableDown}, false, []bool{true}},
		{"disable while disabled", [][]bool{none, disableDown, none}, false, nil},
		{"enable while enabled", [][]bool{none, enableDown, none}, true, nil},
		{"disable press", [][]bool{none, disableDown, none}, true, []bool{false}},
		{"simultaneous presses ignored", [][]bool{none, bothDown, none}, false, nil},
		{"enable then disable", [][]bool{none, enableDown, none, disableDown, none}, false, []bool{true, false}},
		{"pressed at start counts as edge", [][]bool{enableDown, none}, false, []bool{true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &scriptedDevice{script: tt.script}
			_, box := runButtonLoop(t, dev, tt.initial, 300*time.Millisecond)

			got := drainStates(box)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected transitions %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Transition %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestButtonLoopWaitsDebounceAfterTransition(t *testing.T) {
	dev := &scriptedDevice{script: [][]bool{none, enableDown, none, disableDown, none}}
	_, box := runButtonLoop(t, dev, false, 400*time.Millisecond)

	if got := drainStates(box); len(got) != 2 {
		t.Fatalf("Expected enable then disable, got %v", got)
	}

	dev.mu.Lock()
	reads := append([]time.Time(nil), dev.reads...)
	dev.mu.Unlock()

	if len(reads) < 5 {
		t.Fatalf("Expected at least 5 reads, got %d", len(reads))
	}
	// reads 1 and 3 produced the enable and disable edges
	debounce := 50 * time.Millisecond
	for _, edge := range []int{1, 3} {
		if gap := reads[edge+1].Sub(reads[edge]); gap < debounce {
			t.Errorf("Read after edge %d came %v later, expected at least %v", edge, gap, debounce)
		}
	}
}

func TestButtonLoopDrivesLED(t *testing.T) {
	dev := &scriptedDevice{script: [][]bool{none, enableDown, none}}
	loop, _ := runButtonLoop(t, dev, false, 200*time.Millisecond)

	if !loop.Enabled() {
		t.Fatal("Expected stream enabled")
	}
	if out := dev.lastOutputs(); out == nil || !out[0] {
		t.Errorf("Expected LED 0 lit, got %v", out)
	}
}

func TestButtonLoopSurvivesReadErrors(t *testing.T) {
	dev := &scriptedDevice{script: [][]bool{none, enableDown, none}, errs: 5}
	_, box := runButtonLoop(t, dev, false, 300*time.Millisecond)

	if got := drainStates(box); len(got) != 1 || !got[0] {
		t.Errorf("Expected a single enable after errors, got %v", got)
	}
}

func TestButtonLoopRejectsSmallDevice(t *testing.T) {
	dev := &scriptedDevice{script: [][]bool{{false}}}

	cfg := config.Default().Button
	loop := NewButtonLoop(dev, &cfg, control.NewMailbox("broadcaster", 1), false, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := loop.Run(ctx); err == nil {
		t.Error("Expected error for a device without the configured inputs")
	}
}
