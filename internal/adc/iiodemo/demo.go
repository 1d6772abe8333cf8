// Package iiodemo synthesizes plausible-looking ADC readings for running
// the daemon off real hardware (development, CI, demo installs), grounded
// on original_source/src/adc/iio/demo_mode.rs.
package iiodemo

import (
	"math"
	"time"

	"github.com/linux-automation/tacd-go/internal/adc"
)

// Device produces slowly-varying sine-wave-ish values per channel so a demo
// UI has something non-static to display.
type Device struct {
	start time.Time
}

// New creates a demo device. No hardware is touched.
func New() *Device {
	return &Device{start: time.Now()}
}

func (d *Device) Open(sampleFrequencyHz int) error { return nil }

func (d *Device) Sample() ([]uint16, error) {
	t := time.Since(d.start).Seconds()
	out := make([]uint16, len(adc.Channels))

	for i := range out {
		phase := float64(i) * 0.6
		wave := math.Sin(t*0.5+phase)*0.25 + 0.5
		out[i] = uint16(wave * 4095)
	}

	return out, nil
}

func (d *Device) Close() error { return nil }

var _ adc.Device = (*Device)(nil)
