package adc

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/linux-automation/tacd-go/pkg/log"
)

// Sampler runs Device.Sample in a tight loop on a dedicated, real-time
// (SCHED_FIFO) OS thread and publishes each round's raw values through a
// seqlock: a monotonically increasing timestamp read before and after
// copying out the values tells a concurrent reader whether it saw a
// consistent snapshot, without ever blocking the sampling thread on a
// mutex. Grounded on the original implementation's IioThread, which uses
// the exact same before/after-timestamp trick instead of a dedicated
// generation counter.
type Sampler struct {
	refInstant time.Time
	timestamp  atomic.Uint64 // nanoseconds since refInstant at the last completed store; 0 before the first
	values     []atomic.Uint32
	stop       chan struct{}
	stopped    chan struct{}
}

// NewSampler allocates a seqlock-backed sampler for len(Channels) values.
func NewSampler() *Sampler {
	return &Sampler{
		refInstant: time.Now(),
		values:     make([]atomic.Uint32, len(Channels)),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Run drives dev on its own locked, SCHED_FIFO OS thread at sampleFrequencyHz
// until Stop is called. priority is the SCHED_FIFO priority (1-99); pass 0
// to skip real-time scheduling entirely (the tests do this, since they run
// without CAP_SYS_NICE). A failure to set the priority is logged and
// sampling continues without it.
func (s *Sampler) Run(dev Device, sampleFrequencyHz, priority int) {
	go func() {
		defer close(s.stopped)

		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if priority > 0 {
			if err := setRealtimeFIFO(priority); err != nil {
				log.Warnf("adc: could not set SCHED_FIFO priority %d: %s", priority, err)
			}
		}

		if err := dev.Open(sampleFrequencyHz); err != nil {
			log.Errorf("adc: failed to open device: %s", err)
			return
		}
		defer dev.Close()

		for {
			select {
			case <-s.stop:
				return
			default:
			}

			raw, err := dev.Sample()
			if err != nil {
				log.Errorf("adc: sample failed: %s", err)
				continue
			}

			s.store(raw)
		}
	}()
}

// Stop ends the sampling loop and waits for its thread to exit.
func (s *Sampler) Stop() {
	close(s.stop)
	<-s.stopped
}

func (s *Sampler) store(raw []uint16) {
	for i, v := range raw {
		if i >= len(s.values) {
			break
		}
		s.values[i].Store(uint32(v))
	}

	ts := uint64(time.Since(s.refInstant).Nanoseconds())
	s.timestamp.Store(ts)
}

// get reads the raw counts for the given channel indices plus the
// timestamp they were sampled at, retrying internally (cheaply: sampling
// runs at kHz rates so collisions are rare and short) until the timestamp
// reads the same before and after the values. Before the first sample it
// returns zero counts stamped with refInstant.
func (s *Sampler) get(indices []int) (time.Time, []uint16) {
	for {
		before := s.timestamp.Load()

		raw := make([]uint16, len(indices))
		for i, idx := range indices {
			raw[i] = uint16(s.values[idx].Load())
		}

		after := s.timestamp.Load()
		if before == after {
			return s.refInstant.Add(time.Duration(before)), raw
		}
	}
}

func setRealtimeFIFO(priority int) error {
	tid := unix.Gettid()

	param := &unix.SchedParam{Priority: int32(priority)}
	if err := unix.SchedSetscheduler(tid, unix.SCHED_FIFO, param); err != nil {
		return fmt.Errorf("SchedSetscheduler: %w", err)
	}

	return nil
}
