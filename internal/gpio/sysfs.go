//go:build linux

package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// sysfsLine drives a GPIO line through the legacy /sys/class/gpio
// interface. No Go gpio-cdev (character device ioctl) binding exists in the
// available ecosystem, so this package talks to the kernel the same way the
// original's gpio_cdev crate ultimately does underneath: writing the line's
// "value" attribute (see DESIGN.md).
type sysfsLine struct {
	valuePath string
}

// OpenOutput exports gpioNumber (if not already exported) and configures it
// as an output with the given initial value.
func OpenOutput(gpioNumber, initial int) (Line, error) {
	base := filepath.Join("/sys/class/gpio", fmt.Sprintf("gpio%d", gpioNumber))

	if _, err := os.Stat(base); os.IsNotExist(err) {
		if err := os.WriteFile("/sys/class/gpio/export", []byte(strconv.Itoa(gpioNumber)), 0o200); err != nil {
			return nil, fmt.Errorf("gpio: export %d: %w", gpioNumber, err)
		}
	}

	if err := os.WriteFile(filepath.Join(base, "direction"), []byte("out"), 0o644); err != nil {
		return nil, fmt.Errorf("gpio: set direction on %d: %w", gpioNumber, err)
	}

	l := &sysfsLine{valuePath: filepath.Join(base, "value")}
	if err := l.SetValue(initial); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *sysfsLine) SetValue(value int) error {
	v := "0"
	if value != 0 {
		v = "1"
	}
	return os.WriteFile(l.valuePath, []byte(v), 0o644)
}

// OpenInput exports gpioNumber as an input line.
func OpenInput(gpioNumber int) (InputLine, error) {
	base := filepath.Join("/sys/class/gpio", fmt.Sprintf("gpio%d", gpioNumber))

	if _, err := os.Stat(base); os.IsNotExist(err) {
		if err := os.WriteFile("/sys/class/gpio/export", []byte(strconv.Itoa(gpioNumber)), 0o200); err != nil {
			return nil, fmt.Errorf("gpio: export %d: %w", gpioNumber, err)
		}
	}

	if err := os.WriteFile(filepath.Join(base, "direction"), []byte("in"), 0o644); err != nil {
		return nil, fmt.Errorf("gpio: set direction on %d: %w", gpioNumber, err)
	}

	return &sysfsInputLine{valuePath: filepath.Join(base, "value")}, nil
}

type sysfsInputLine struct {
	valuePath string
}

func (l *sysfsInputLine) GetValue() (int, error) {
	data, err := os.ReadFile(l.valuePath)
	if err != nil {
		return 0, err
	}
	v := strings.TrimSpace(string(data))
	if v == "1" {
		return 1, nil
	}
	return 0, nil
}

// Subscribe polls the value file, since sysfs-gpio edge notification
// requires poll(2) on the fd directly, which os.File does not expose
// portably; the polling interval matches THREAD_INTERVAL elsewhere in the
// daemon, fast enough for the slow-changing lines this backs.
func (l *sysfsInputLine) Subscribe() (<-chan int, func()) {
	values := make(chan int, 1)
	stop := make(chan struct{})

	go func() {
		defer close(values)
		last := -1
		for {
			select {
			case <-stop:
				return
			default:
			}
			v, err := l.GetValue()
			if err == nil && v != last {
				last = v
				select {
				case values <- v:
				case <-stop:
					return
				}
			}
			time.Sleep(100 * time.Millisecond)
		}
	}()

	return values, func() { close(stop) }
}

var (
	_ Line      = (*sysfsLine)(nil)
	_ InputLine = (*sysfsInputLine)(nil)
)
