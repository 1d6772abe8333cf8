package adc

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/linux-automation/tacd-go/internal/broker"
)

// publishInterval is how often calibrated readings are copied from the
// seqlock into the broker, independent of the much higher sampleFrequencyHz
// the real-time thread runs at internally (matches the original's 100ms
// adc_clone republish loop).
const publishInterval = 100 * time.Millisecond

// Channel ties one CalibratedChannel to the broker topic its value is
// republished on.
type Channel struct {
	Fast  CalibratedChannel
	Topic *broker.Topic[Measurement]
}

// Adc owns the real-time sampler and every channel's read-only broker topic.
type Adc struct {
	sampler  *Sampler
	Channels map[string]Channel
}

// topicPaths maps each hard-coded internal channel name to the REST/MQTT
// path it is published under.
var topicPaths = map[string]string{
	"usb-host-curr":  "/v1/usb/host/total/feedback/current",
	"usb-host1-curr": "/v1/usb/host/port1/feedback/current",
	"usb-host2-curr": "/v1/usb/host/port2/feedback/current",
	"usb-host3-curr": "/v1/usb/host/port3/feedback/current",
	"out0-volt":      "/v1/output/out_0/feedback/voltage",
	"out1-volt":      "/v1/output/out_1/feedback/voltage",
	"iobus-curr":     "/v1/iobus/feedback/current",
	"iobus-volt":     "/v1/iobus/feedback/voltage",
	"pwr-volt":       "/v1/power/dut/feedback/voltage",
	"pwr-curr":       "/v1/power/dut/feedback/current",
}

// New wires sampler channels to freshly registered read-only broker topics
// and starts the real-time sampling thread against dev.
func New(b *broker.Builder, dev Device, sampleFrequencyHz, rtPriority int) *Adc {
	sampler := NewSampler()
	sampler.Run(dev, sampleFrequencyHz, rtPriority)

	calibrated := NewChannels(sampler)

	channels := make(map[string]Channel, len(calibrated))
	for name, cal := range calibrated {
		path, ok := topicPaths[name]
		if !ok {
			continue
		}
		channels[name] = Channel{
			Fast:  cal,
			Topic: broker.RegisterReadOnly[Measurement](b, path, nil),
		}
	}

	return &Adc{sampler: sampler, Channels: channels}
}

// RegisterPublishTask schedules the periodic copy from the seqlock to the
// broker topics on sched, matching the cadence (though not the mechanism)
// of the original's dedicated republish task.
func (a *Adc) RegisterPublishTask(sched gocron.Scheduler) error {
	_, err := sched.NewJob(
		gocron.DurationJob(publishInterval),
		gocron.NewTask(a.publishOnce),
	)
	return err
}

func (a *Adc) publishOnce() {
	for _, ch := range a.Channels {
		ch.Topic.Set(ch.Fast.Get())
	}
}

// Stop ends the real-time sampling thread.
func (a *Adc) Stop() {
	a.sampler.Stop()
}
