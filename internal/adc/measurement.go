package adc

import (
	"encoding/json"
	"fmt"
)

type measurementWire struct {
	Ts    float64 `json:"ts"`
	Value float32 `json:"value"`
}

// MarshalJSON encodes Ts as milliseconds since the Unix epoch, the same wire
// shape the web interface's MQTT/REST client expects (see json_instant in
// the original implementation, which converts a monotonic Instant the same
// way).
func (m Measurement) MarshalJSON() ([]byte, error) {
	return json.Marshal(measurementWire{
		Ts:    float64(m.Ts.UnixNano()) / 1e6,
		Value: m.Value,
	})
}

// UnmarshalJSON is provided only so Measurement satisfies the broker's
// json.Marshal/Unmarshal round trip for persistence; ADC channels are
// read-only topics and are never set from external input, so this is never
// actually invoked in practice.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	return fmt.Errorf("adc: Measurement is read-only and cannot be unmarshaled")
}
