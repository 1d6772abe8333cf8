//go:build linux

// Package iiohardware reads the bench controller's two real ADCs: the
// STM32MP1-internal SoC ADC (buffered, IIO triggered-buffer interface) and
// the discrete power-board ADC (LMP92064, plain sysfs attribute reads).
// Grounded directly on original_source/src/adc/iio/hardware.rs, translated
// from the industrial_io crate's buffer API to direct sysfs + character
// device access since no Go IIO buffer binding exists in the available
// ecosystem (see DESIGN.md).
package iiohardware

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/linux-automation/tacd-go/internal/adc"
)

const (
	iioBasePath  = "/sys/bus/iio/devices"
	devBasePath  = "/dev"
	stm32Device  = "48003000.adc:adc@0"
	pwrDevice    = "lmp92064"
	triggerName  = "tim4_trgo"
	bufferLength = 128
)

// scanElement describes one enabled channel's position and encoding within
// the IIO triggered buffer's packed binary sample layout, read from its
// scan_elements/in_<channel>_{index,type} sysfs attributes. Format of the
// type attribute is "{le,be}:{s,u}<bits>/<storagebits>>><shift>", e.g.
// "le:u12/16>>0" for a 12-bit-significant value stored in a 16-bit little
// endian word.
type scanElement struct {
	name      string
	index     int
	bigEndian bool
	bits      int
	storage   int
	shift     int
}

// Device implements adc.Device against the real STM32 + power-board ADCs.
type Device struct {
	stm32Path string
	pwrPath   string

	stm32Channels []string
	pwrChannels   []string

	stm32Elements []scanElement
	stm32DevNode  string
}

// New resolves the sysfs paths for the two hardware ADCs. It does not touch
// the hardware yet; that happens in Open, on the sampler's own real-time
// thread.
func New() (*Device, error) {
	stm32Path, err := findDeviceByName(stm32Device)
	if err != nil {
		return nil, err
	}

	pwrPath, err := findDeviceByName(pwrDevice)
	if err != nil {
		return nil, err
	}

	return &Device{
		stm32Path:     stm32Path,
		pwrPath:       pwrPath,
		stm32Channels: []string{"voltage13", "voltage15", "voltage0", "voltage1", "voltage2", "voltage10", "voltage5", "voltage9"},
		pwrChannels:   []string{"voltage", "current"},
	}, nil
}

func findDeviceByName(name string) (string, error) {
	entries, err := os.ReadDir(iioBasePath)
	if err != nil {
		return "", err
	}

	for _, e := range entries {
		nameFile := filepath.Join(iioBasePath, e.Name(), "name")
		data, err := os.ReadFile(nameFile)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == name {
			return filepath.Join(iioBasePath, e.Name()), nil
		}
	}

	return "", fmt.Errorf("iio device %q not found under %s", name, iioBasePath)
}

// Open enables the STM32 channels, configures the sample trigger, reads back
// each enabled channel's scan buffer layout, and enables the STM32 buffer.
// The power-board channels need no setup; Sample reads their raw sysfs
// attributes directly. sampleFrequencyHz sets the hardware trigger rate
// driving the STM32 buffer.
func (d *Device) Open(sampleFrequencyHz int) error {
	for _, ch := range d.stm32Channels {
		if err := writeAttr(filepath.Join(d.stm32Path, "scan_elements"), "in_"+ch+"_en", "1"); err != nil {
			return fmt.Errorf("enable channel %s: %w", ch, err)
		}
	}

	if err := writeAttr(d.stm32Path, "buffer/enable", "0"); err != nil {
		return fmt.Errorf("reset stm32 buffer: %w", err)
	}

	triggerPath, err := findDeviceByName(triggerName)
	if err != nil {
		return err
	}
	if err := writeAttr(triggerPath, "sampling_frequency", strconv.Itoa(sampleFrequencyHz)); err != nil {
		return fmt.Errorf("set trigger frequency: %w", err)
	}

	elements := make([]scanElement, len(d.stm32Channels))
	for i, ch := range d.stm32Channels {
		el, err := readScanElement(d.stm32Path, ch)
		if err != nil {
			return fmt.Errorf("read scan layout for %s: %w", ch, err)
		}
		elements[i] = el
	}
	d.stm32Elements = elements
	d.stm32DevNode = filepath.Join(devBasePath, filepath.Base(d.stm32Path))

	if err := writeAttr(d.stm32Path, "buffer/length", strconv.Itoa(bufferLength)); err != nil {
		return fmt.Errorf("set buffer length: %w", err)
	}

	return writeAttr(d.stm32Path, "buffer/enable", "1")
}

// Sample reads one round of buffer-averaged STM32 samples plus one-shot
// power-board sysfs reads, in adc.Channels order.
func (d *Device) Sample() ([]uint16, error) {
	stm32Values, err := readBufferedChannelAverages(d.stm32DevNode, d.stm32Elements)
	if err != nil {
		return nil, err
	}

	out := make([]uint16, 0, len(d.stm32Channels)+len(d.pwrChannels))
	out = append(out, stm32Values...)

	for _, ch := range d.pwrChannels {
		v, err := readRawAttr(filepath.Join(d.pwrPath, "in_"+ch+"_raw"))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}

	return out, nil
}

// Close disables the STM32 buffer.
func (d *Device) Close() error {
	return writeAttr(d.stm32Path, "buffer/enable", "0")
}

func writeAttr(base, name, value string) error {
	return os.WriteFile(filepath.Join(base, name), []byte(value+"\n"), 0o644)
}

func readRawAttr(path string) (uint16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

func readScanElement(devicePath, channel string) (scanElement, error) {
	scanDir := filepath.Join(devicePath, "scan_elements")

	indexData, err := os.ReadFile(filepath.Join(scanDir, "in_"+channel+"_index"))
	if err != nil {
		return scanElement{}, err
	}
	index, err := strconv.Atoi(strings.TrimSpace(string(indexData)))
	if err != nil {
		return scanElement{}, fmt.Errorf("in_%s_index: %w", channel, err)
	}

	typeData, err := os.ReadFile(filepath.Join(scanDir, "in_"+channel+"_type"))
	if err != nil {
		return scanElement{}, err
	}
	el, err := parseScanType(strings.TrimSpace(string(typeData)))
	if err != nil {
		return scanElement{}, fmt.Errorf("in_%s_type %q: %w", channel, string(typeData), err)
	}
	el.name = channel
	el.index = index

	return el, nil
}

// parseScanType decodes the kernel's scan_elements type string, e.g.
// "le:u12/16>>0".
func parseScanType(s string) (scanElement, error) {
	endianness, rest, ok := strings.Cut(s, ":")
	if !ok || len(rest) == 0 {
		return scanElement{}, fmt.Errorf("malformed scan type")
	}

	signedBits, storageShift, ok := strings.Cut(rest[1:], "/")
	if !ok {
		return scanElement{}, fmt.Errorf("malformed scan type")
	}
	bits, err := strconv.Atoi(signedBits)
	if err != nil {
		return scanElement{}, err
	}

	storageStr, shiftStr, ok := strings.Cut(storageShift, ">>")
	if !ok {
		return scanElement{}, fmt.Errorf("malformed scan type")
	}
	storage, err := strconv.Atoi(storageStr)
	if err != nil {
		return scanElement{}, err
	}
	shift, err := strconv.Atoi(shiftStr)
	if err != nil {
		return scanElement{}, err
	}

	return scanElement{bigEndian: endianness == "be", bits: bits, storage: storage, shift: shift}, nil
}

// readBufferedChannelAverages refills the kernel's triggered buffer once
// (blocking on the character device until bufferLength samples have been
// produced) and returns, in the same order as elements was given, the
// arithmetic mean of each channel's samples across the buffer -- the same
// software averaging original_source/src/adc/iio/hardware.rs performs via
// industrial_io's channel_iter, re-expressed over the raw scan_elements
// packing since no Go IIO buffer binding exists in the retrieved pack.
func readBufferedChannelAverages(devNode string, elements []scanElement) ([]uint16, error) {
	sorted := append([]scanElement(nil), elements...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].index < sorted[j].index })

	stride := 0
	for _, el := range sorted {
		stride += el.storage / 8
	}
	if stride == 0 {
		return nil, fmt.Errorf("iio buffer: no enabled scan elements")
	}

	f, err := os.Open(devNode)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, stride*bufferLength)

	sums := make([]uint64, len(sorted))
	row := make([]byte, stride)

	for i := 0; i < bufferLength; i++ {
		if _, err := io.ReadFull(r, row); err != nil {
			return nil, fmt.Errorf("iio buffer read: %w", err)
		}

		offset := 0
		for j, el := range sorted {
			width := el.storage / 8
			sums[j] += decodeSample(row[offset:offset+width], el)
			offset += width
		}
	}

	// Map averages back from index order to the caller's original channel
	// order.
	avgByName := make(map[string]uint16, len(sorted))
	for i, el := range sorted {
		avgByName[el.name] = uint16(sums[i] / uint64(bufferLength))
	}

	out := make([]uint16, len(elements))
	for i, el := range elements {
		out[i] = avgByName[el.name]
	}
	return out, nil
}

func decodeSample(b []byte, el scanElement) uint64 {
	var v uint64
	if el.bigEndian {
		for _, by := range b {
			v = v<<8 | uint64(by)
		}
	} else {
		for i := len(b) - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
	}

	v >>= uint(el.shift)
	if el.bits < 64 {
		v &= (uint64(1) << uint(el.bits)) - 1
	}
	return v
}

var _ adc.Device = (*Device)(nil)
