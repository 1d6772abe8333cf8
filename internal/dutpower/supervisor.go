// Package dutpower supervises the DUT (device under test) power output: a
// dedicated real-time thread continuously checks the measured voltage and
// current against hard safety limits and drives two GPIO lines (power
// enable, discharge enable) accordingly, overriding any pending request the
// instant a limit is exceeded. Grounded on original_source/src/dut_power.rs.
package dutpower

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/linux-automation/tacd-go/internal/adc"
	"github.com/linux-automation/tacd-go/internal/broker"
	"github.com/linux-automation/tacd-go/internal/gpio"
	"github.com/linux-automation/tacd-go/pkg/log"
)

const (
	maxAge         = 300 * time.Millisecond
	threadInterval = 100 * time.Millisecond
	taskInterval   = 200 * time.Millisecond
	maxCurrent     = 5.0
	maxVoltage     = 48.0
	minVoltage     = -1.0
	rtPriority     = 10
)

// OutputRequest is written externally (REST/MQTT) to ask for a power state
// change; the supervisor thread consumes and resets it to Idle every tick.
type OutputRequest string

const (
	RequestIdle         OutputRequest = "idle"
	RequestOn           OutputRequest = "on"
	RequestOff          OutputRequest = "off"
	RequestOffDischarge OutputRequest = "off_discharge"
)

// OutputState is the supervisor's read-only report of the DUT power rail's
// actual state, including the safety-trip states it can enter on its own.
type OutputState string

const (
	StateOn                OutputState = "on"
	StateOff               OutputState = "off"
	StateOffDischarge      OutputState = "off_discharge"
	StateInvertedPolarity  OutputState = "inverted_polarity"
	StateOverCurrent       OutputState = "over_current"
	StateOverVoltage       OutputState = "over_voltage"
	StateRealtimeViolation OutputState = "realtime_violation"
)

// Supervisor owns the request/state broker topics and the real-time
// monitoring thread.
type Supervisor struct {
	request *broker.Topic[OutputRequest]
	state   *broker.Topic[OutputState]

	requestValue atomic.Value // OutputRequest
	stateValue   atomic.Value // OutputState

	tick atomic.Uint32

	stop    chan struct{}
	stopped chan struct{}
}

// New registers the request (write-only) / state (read-only) validation
// pair and starts the supervisor thread. pwrLine gates the rail's power
// FET, dischargeLine gates its discharge path; pwrVolt/pwrCurr are the
// calibrated ADC channels feeding the safety checks.
func New(b *broker.Builder, pwrLine, dischargeLine gpio.Line, pwrVolt, pwrCurr adc.CalibratedChannel) *Supervisor {
	s := &Supervisor{
		request: broker.RegisterWriteOnly[OutputRequest](b, "/v1/dut/power/status", nil),
		state:   broker.RegisterReadOnly[OutputState](b, "/v1/dut/power/status", nil),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.requestValue.Store(RequestIdle)
	s.stateValue.Store(StateOff)

	reqCh, _ := s.request.SubscribeUnboundedNative()
	go func() {
		for req := range reqCh {
			s.requestValue.Store(req)
		}
	}()

	go s.run(pwrLine, dischargeLine, pwrVolt, pwrCurr)

	return s
}

// Tick returns the number of successfully completed supervisor loop
// iterations, a liveness counter the watchdog feeder polls to detect a
// stalled real-time thread distinct from a merely slow one.
func (s *Supervisor) Tick() uint32 {
	return s.tick.Load()
}

// Stop ends the supervisor thread.
func (s *Supervisor) Stop() {
	close(s.stop)
	<-s.stopped
}

func (s *Supervisor) run(pwrLine, dischargeLine gpio.Line, pwrVolt, pwrCurr adc.CalibratedChannel) {
	defer close(s.stopped)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := setRealtimeFIFO(rtPriority); err != nil {
		log.Warnf("dutpower: could not set SCHED_FIFO priority: %s", err)
	}

	var lastTs time.Time

	fail := func(reason OutputState) {
		_ = pwrLine.SetValue(1)
		_ = dischargeLine.SetValue(1)
		s.stateValue.Store(reason)
	}

	ticker := time.NewTicker(threadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		joint := adc.GetJoint(pwrVolt, pwrCurr)
		voltM, currM := joint[0], joint[1]

		if !voltM.Ts.IsZero() {
			lastTs = voltM.Ts
		}

		if !lastTs.IsZero() && time.Since(lastTs) > maxAge {
			fail(StateRealtimeViolation)
			continue
		}
		s.tick.Add(1)

		volt := voltM.Value
		curr := currM.Value

		switch {
		case volt > maxVoltage:
			fail(StateOverVoltage)
			continue
		case volt < minVoltage:
			fail(StateInvertedPolarity)
			continue
		case curr > maxCurrent:
			fail(StateOverCurrent)
			continue
		}

		switch s.requestValue.Load().(OutputRequest) {
		case RequestIdle:
			continue
		case RequestOn:
			_ = dischargeLine.SetValue(1)
			_ = pwrLine.SetValue(0)
			s.stateValue.Store(StateOn)
		case RequestOff:
			_ = dischargeLine.SetValue(1)
			_ = pwrLine.SetValue(1)
			s.stateValue.Store(StateOff)
		case RequestOffDischarge:
			_ = dischargeLine.SetValue(0)
			_ = pwrLine.SetValue(1)
			s.stateValue.Store(StateOffDischarge)
		}

		s.requestValue.Store(RequestIdle)
	}
}

func setRealtimeFIFO(priority int) error {
	tid := unix.Gettid()
	param := &unix.SchedParam{Priority: int32(priority)}
	return unix.SchedSetscheduler(tid, unix.SCHED_FIFO, param)
}

// RegisterStatePublishTask publishes the supervisor's current state onto
// the broker topic every taskInterval, but only when it changed since the
// last publish, matching the original's prev_state de-duplication.
func (s *Supervisor) RegisterStatePublishTask(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(taskInterval)
		defer ticker.Stop()

		var prev OutputState
		havePrev := false

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			cur := s.stateValue.Load().(OutputState)
			if !havePrev || prev != cur {
				s.state.Set(cur)
				prev = cur
				havePrev = true
			}
		}
	}()
}
