package adc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice is a minimal in-package Device used to exercise Sampler without
// depending on iiostub (which itself imports this package).
type fakeDevice struct {
	mu     sync.Mutex
	values []uint16
	opened bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{values: make([]uint16, len(Channels))}
}

func (d *fakeDevice) Open(sampleFrequencyHz int) error {
	d.opened = true
	return nil
}

func (d *fakeDevice) set(idx int, v uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[idx] = v
}

func (d *fakeDevice) Sample() ([]uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint16, len(d.values))
	copy(out, d.values)
	return out, nil
}

func (d *fakeDevice) Close() error { return nil }

func TestSamplerStoreAndGetConsistentSnapshot(t *testing.T) {
	dev := newFakeDevice()
	dev.set(2, 555)

	sampler := NewSampler()
	sampler.Run(dev, 1000, 0)
	defer sampler.Stop()

	require.Eventually(t, func() bool {
		_, raw := sampler.get([]int{2})
		return raw[0] == 555
	}, time.Second, 2*time.Millisecond)
}

func TestSamplerGetReturnsSampleTimestamp(t *testing.T) {
	dev := newFakeDevice()

	sampler := NewSampler()
	sampler.Run(dev, 1000, 0)
	defer sampler.Stop()

	require.Eventually(t, func() bool {
		ts, _ := sampler.get([]int{0})
		return !ts.Before(sampler.refInstant)
	}, time.Second, 2*time.Millisecond)
}

func TestSamplerStopEndsLoop(t *testing.T) {
	dev := newFakeDevice()

	sampler := NewSampler()
	sampler.Run(dev, 1000, 0)

	done := make(chan struct{})
	go func() {
		sampler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestCalibrationApply(t *testing.T) {
	cal := Calibration{Scale: 0.01, Offset: 1.0}
	assert.InDelta(t, float32(4.0), cal.Apply(500), 0.0001)
}

func TestDecodeBEFloat32(t *testing.T) {
	// 1.0f in IEEE-754 big-endian is 0x3F800000.
	got := decodeBEFloat32([]byte{0x3F, 0x80, 0x00, 0x00})
	assert.Equal(t, float32(1.0), got)
}

func TestCalibratedChannelGet(t *testing.T) {
	dev := newFakeDevice()
	dev.set(0, 1000)

	sampler := NewSampler()
	sampler.Run(dev, 1000, 0)
	defer sampler.Stop()

	ch := CalibratedChannel{sampler: sampler, index: 0, calibration: Calibration{Scale: 0.001, Offset: 0}}

	require.Eventually(t, func() bool {
		m := ch.Get()
		return m.Value > 0
	}, time.Second, 2*time.Millisecond)
}
