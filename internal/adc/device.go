// Package adc samples the ten current/voltage feedback channels (USB host
// ports, DUT power rail, IOBus, output rails) at high frequency on a
// dedicated real-time thread, and republishes calibrated, averaged values
// onto the broker at a slower cadence for consumption by REST/MQTT clients
// and by the DUT power supervisor.
package adc

import "time"

// ChannelSpec names one physical ADC channel: the internal name used to look
// it up (matches dutpower/gpio wiring), and the devicetree "chosen" node
// calibration data is read from.
type ChannelSpec struct {
	Name          string
	CalibrationID string
}

// Channels is the fixed, hard-coded channel list for the bench controller's
// two ADCs (SoC-internal STM32 ADC plus the discrete power board ADC),
// mirroring the CHANNELS_STM32/CHANNELS_PWR tables.
var Channels = []ChannelSpec{
	{Name: "usb-host-curr", CalibrationID: "baseboard-factory-data/usb-host-curr"},
	{Name: "usb-host1-curr", CalibrationID: "baseboard-factory-data/usb-host1-curr"},
	{Name: "usb-host2-curr", CalibrationID: "baseboard-factory-data/usb-host2-curr"},
	{Name: "usb-host3-curr", CalibrationID: "baseboard-factory-data/usb-host3-curr"},
	{Name: "out0-volt", CalibrationID: "baseboard-factory-data/out0-volt"},
	{Name: "out1-volt", CalibrationID: "baseboard-factory-data/out1-volt"},
	{Name: "iobus-curr", CalibrationID: "baseboard-factory-data/iobus-curr"},
	{Name: "iobus-volt", CalibrationID: "baseboard-factory-data/iobus-volt"},
	{Name: "pwr-volt", CalibrationID: "powerboard-factory-data/pwr-volt"},
	{Name: "pwr-curr", CalibrationID: "powerboard-factory-data/pwr-curr"},
}

// Device is the hardware abstraction a sampler loop drives: one blocking
// call per tick that returns raw (uncalibrated) counts for every channel in
// Channels, in order. Implementations: iiohardware (real sysfs/IIO buffer
// access, Linux only) and iiodemo (synthetic values for development and
// iiostub (directly settable values for tests).
type Device interface {
	// Open prepares the device for sampling (enabling buffers, setting the
	// sample trigger frequency, etc). Called once before the first Sample.
	Open(sampleFrequencyHz int) error

	// Sample blocks until a new set of readings is available and returns
	// raw counts for every channel, in the same order as Channels.
	Sample() ([]uint16, error)

	// Close releases any underlying resources.
	Close() error
}

// Measurement is one timestamped, calibrated reading, the shape published
// onto the broker for each channel. Ts is serialized as milliseconds since
// the Unix epoch (see MarshalJSON), converted from a monotonic clock read at
// sample time the same way json_instant did in the original implementation.
type Measurement struct {
	Ts    time.Time
	Value float32
}
