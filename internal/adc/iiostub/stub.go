// Package iiostub provides a directly-settable adc.Device for tests,
// grounded on original_source/src/adc/iio/stub.rs, including its "stall"
// knob for exercising the watchdog/supervisor's stale-reading handling.
package iiostub

import (
	"sync"
	"time"

	"github.com/linux-automation/tacd-go/internal/adc"
)

// Device is a test double: Set writes a raw count for one channel index,
// Sample reads back whatever was last Set (0 for any channel never set).
type Device struct {
	mu      sync.Mutex
	values  []uint16
	stalled bool
}

// New creates a stub device with every channel initialized to zero.
func New() *Device {
	return &Device{values: make([]uint16, len(adc.Channels))}
}

func (d *Device) Open(sampleFrequencyHz int) error { return nil }

// Set installs a raw count for channel index idx, visible on the next
// Sample call.
func (d *Device) Set(idx int, raw uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[idx] = raw
}

// Stall simulates a frozen ADC thread: Sample still returns a value, but
// callers that check sample age (the watchdog/supervisor) should treat it
// as stale after a delay of this magnitude.
func (d *Device) Stall(stalled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stalled = stalled
}

func (d *Device) Sample() ([]uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stalled {
		time.Sleep(500 * time.Millisecond)
	}

	out := make([]uint16, len(d.values))
	copy(out, d.values)
	return out, nil
}

func (d *Device) Close() error { return nil }

var _ adc.Device = (*Device)(nil)
