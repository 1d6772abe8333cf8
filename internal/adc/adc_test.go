package adc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linux-automation/tacd-go/internal/adc"
)

func TestMeasurementJSONEncodesValueAndEpochMillis(t *testing.T) {
	ts := time.Unix(1700000000, 500_000_000) // .5s -> epoch millis ending in 500
	m := adc.Measurement{Ts: ts, Value: 1.5}

	b, err := m.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"value":1.5`)
	assert.Contains(t, string(b), `"ts":`)
	assert.Contains(t, string(b), `"ts":1700000000500`)
}

func TestMeasurementUnmarshalIsRejected(t *testing.T) {
	var m adc.Measurement
	err := m.UnmarshalJSON([]byte(`{}`))
	assert.Error(t, err, "ADC measurements are read-only and must never be settable from the outside")
}
