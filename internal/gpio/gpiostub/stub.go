// Package gpiostub is an in-memory gpio.Line/gpio.InputLine backend for
// tests and demo mode, grounded on original_source/src/digital_io/gpio/stub.rs:
// named lines are shared process-wide so that one component's output can be
// observed by another's input, exactly like the Rust stub's LINES registry.
package gpiostub

import (
	"sync"

	"github.com/linux-automation/tacd-go/internal/gpio"
)

var (
	registryMu sync.Mutex
	registry   = map[string]*sharedLine{}
)

type sharedLine struct {
	mu        sync.Mutex
	value     int
	listeners []chan int
}

func find(name string) *sharedLine {
	registryMu.Lock()
	defer registryMu.Unlock()

	if l, ok := registry[name]; ok {
		return l
	}
	l := &sharedLine{}
	registry[name] = l
	return l
}

func (l *sharedLine) set(value int) {
	l.mu.Lock()
	l.value = value
	listeners := append([]chan int(nil), l.listeners...)
	l.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- value:
		default:
		}
	}
}

func (l *sharedLine) get() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

func (l *sharedLine) subscribe() (chan int, func()) {
	ch := make(chan int, 8)

	l.mu.Lock()
	ch <- l.value
	l.listeners = append(l.listeners, ch)
	l.mu.Unlock()

	stop := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, c := range l.listeners {
			if c == ch {
				l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
				break
			}
		}
	}

	return ch, stop
}

// Output is a named output line.
type Output struct{ line *sharedLine }

// OpenOutput creates (or reopens) a named output line, initialized to 0.
func OpenOutput(name string) *Output {
	return &Output{line: find(name)}
}

func (o *Output) SetValue(value int) error {
	o.line.set(value)
	return nil
}

// Input is a named input line, observing whatever an Output of the same
// name last set (or 0 if nothing has).
type Input struct{ line *sharedLine }

// OpenInput opens a named input line.
func OpenInput(name string) *Input {
	return &Input{line: find(name)}
}

func (i *Input) GetValue() (int, error) {
	return i.line.get(), nil
}

func (i *Input) Subscribe() (<-chan int, func()) {
	return i.line.subscribe()
}

var (
	_ gpio.Line      = (*Output)(nil)
	_ gpio.InputLine = (*Input)(nil)
)
