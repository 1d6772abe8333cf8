package iiodemo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linux-automation/tacd-go/internal/adc"
)

func TestSampleProducesOneValuePerChannelInRange(t *testing.T) {
	dev := New()
	require.NoError(t, dev.Open(1000))
	defer dev.Close()

	raw, err := dev.Sample()
	require.NoError(t, err)
	require.Len(t, raw, len(adc.Channels))

	for _, v := range raw {
		assert.LessOrEqual(t, v, uint16(4095))
	}
}
