// Package gpio abstracts the handful of discrete GPIO lines the daemon
// drives directly (DUT power enable, discharge enable, UART/IOBus enables),
// grounded on original_source/src/digital_io.rs's find_line/LineHandle
// split between a real backend and a software stub.
package gpio

// Line is a single GPIO line driven as an output.
type Line interface {
	// SetValue drives the line high (1) or low (0).
	SetValue(value int) error
}

// InputLine is a single GPIO line read as an input, with edge-triggered
// change notification.
type InputLine interface {
	// GetValue reads the line's current level.
	GetValue() (int, error)

	// Subscribe returns a channel that receives the line's level every
	// time it changes (after first receiving the current level once).
	// The returned stop function releases the underlying watch.
	Subscribe() (values <-chan int, stop func())
}
