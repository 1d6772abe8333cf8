package adc

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/linux-automation/tacd-go/pkg/log"
)

// Calibration converts a raw ADC count into a physical unit (volts or
// amperes) via a linear scale/offset pair read from the devicetree "chosen"
// node at startup.
type Calibration struct {
	Scale  float32
	Offset float32
}

// Apply converts a raw count into its calibrated physical value.
func (c Calibration) Apply(raw uint16) float32 {
	return float32(raw)*c.Scale - c.Offset
}

// LoadCalibration reads an 8-byte (scale, offset) big-endian float32 pair
// from /sys/firmware/devicetree/base/chosen/<name>, the same layout and
// location the original hardware.rs reads via Calibration::from_file.
func LoadCalibration(name string) (Calibration, error) {
	path := filepath.Join("/sys/firmware/devicetree/base/chosen", name)

	data, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, fmt.Errorf("adc calibration %q: %w", name, err)
	}
	if len(data) < 8 {
		return Calibration{}, fmt.Errorf("adc calibration %q: short read", name)
	}

	return Calibration{
		Scale:  decodeBEFloat32(data[0:4]),
		Offset: decodeBEFloat32(data[4:8]),
	}, nil
}

func decodeBEFloat32(b []byte) float32 {
	bits := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return math.Float32frombits(bits)
}

// CalibratedChannel is a read handle onto one sampled channel: an index
// into the shared Sampler plus the calibration to apply to raw readings.
type CalibratedChannel struct {
	sampler     *Sampler
	index       int
	calibration Calibration
}

// Get blocks (retrying internally) until a consistent reading is available
// and returns the calibrated value and the time it was sampled at. There is
// deliberately no single-shot/non-retrying variant: a torn read is always
// transient and callers always want the freshest consistent value, never a
// "didn't have one yet" outcome.
func (c CalibratedChannel) Get() Measurement {
	ts, raw := c.sampler.get([]int{c.index})
	return Measurement{Ts: ts, Value: c.calibration.Apply(raw[0])}
}

// GetJoint reads channels together against a single seqlock generation, so
// every returned Measurement carries the same timestamp and none can
// straddle a torn update the way independent Get() calls on each channel
// could. All channels must share the same underlying Sampler (true for
// every channel set New hands out). Mirrors the original's
// Sampler::try_get_multiple, used wherever two or more channels must be
// read as one consistent snapshot (e.g. the DUT power supervisor's
// voltage/current pair).
func GetJoint(channels ...CalibratedChannel) []Measurement {
	if len(channels) == 0 {
		return nil
	}

	indices := make([]int, len(channels))
	for i, c := range channels {
		indices[i] = c.index
	}

	ts, raw := channels[0].sampler.get(indices)

	out := make([]Measurement, len(channels))
	for i, c := range channels {
		out[i] = Measurement{Ts: ts, Value: c.calibration.Apply(raw[i])}
	}
	return out
}

// NewCalibratedChannel builds a single CalibratedChannel directly from an
// already-known calibration, bypassing the devicetree lookup NewChannels
// does. Used by components that need to construct a channel against a test
// double sampler without a real devicetree present.
func NewCalibratedChannel(sampler *Sampler, index int, calibration Calibration) CalibratedChannel {
	return CalibratedChannel{sampler: sampler, index: index, calibration: calibration}
}

// NewChannels builds one CalibratedChannel per entry in Channels, loading
// calibration data for each (logging and skipping any channel whose
// calibration data could not be read, so one bad devicetree node does not
// take down the whole sampler).
func NewChannels(sampler *Sampler) map[string]CalibratedChannel {
	out := make(map[string]CalibratedChannel, len(Channels))

	for i, spec := range Channels {
		cal, err := LoadCalibration(spec.CalibrationID)
		if err != nil {
			log.Warnf("adc: %s", err)
			continue
		}
		out[spec.Name] = CalibratedChannel{sampler: sampler, index: i, calibration: cal}
	}

	return out
}
