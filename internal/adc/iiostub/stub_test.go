package iiostub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndSample(t *testing.T) {
	dev := New()
	dev.Set(3, 999)

	raw, err := dev.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint16(999), raw[3])
}

func TestStallDelaysSample(t *testing.T) {
	dev := New()
	dev.Stall(true)

	start := time.Now()
	_, err := dev.Sample()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestUnstalledSampleIsFast(t *testing.T) {
	dev := New()

	start := time.Now()
	_, err := dev.Sample()
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
