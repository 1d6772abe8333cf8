package broker

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Builder registers topics during the builder-time phase of the process.
// Once Seal is called no further topics may be registered, matching the
// teacher repo's pattern of a builder object that is consumed by the final
// wiring step (see cc-backend's repository.Connect/config.Init two-phase
// startup, generalized here to topic registration).
type Builder struct {
	mu     sync.Mutex
	sealed bool
	topics []AnyTopic
	byPath map[string][]AnyTopic
}

// NewBuilder creates an empty topic registry builder.
func NewBuilder() *Builder {
	return &Builder{byPath: make(map[string][]AnyTopic)}
}

// Register creates a new topic. readable/writable set the external
// visibility flags, persistent marks it for C2 snapshotting, and
// retainedLength is the depth of the retained ring (0 or 1 both mean "keep
// only the latest value").
//
// Two topics registered at the same path form a validation pair only if one
// is readable-only and the other is writable-only; any other collision is a
// configuration fault and panics immediately (this happens at process
// startup, long before any external client can observe it).
func Register[V any](b *Builder, path string, readable, writable, persistent bool, initial *V, retainedLength int) *Topic[V] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		panic(fmt.Sprintf("broker: cannot register topic %q after Seal", path))
	}

	t := newTopic[V](path, readable, writable, persistent, retainedLength, initial)

	for _, existing := range b.byPath[path] {
		if !validationPair(existing, t) {
			panic(fmt.Sprintf("broker: topic %q registered more than once without forming a validation pair", path))
		}
	}

	b.byPath[path] = append(b.byPath[path], t)
	b.topics = append(b.topics, t)

	return t
}

func validationPair(a, b AnyTopic) bool {
	return (a.Readable() && !a.Writable() && b.Writable() && !b.Readable()) ||
		(b.Readable() && !b.Writable() && a.Writable() && !a.Readable())
}

// RegisterReadOnly is shorthand for a topic only external readers may see.
func RegisterReadOnly[V any](b *Builder, path string, initial *V) *Topic[V] {
	return Register(b, path, true, false, false, initial, 1)
}

// RegisterReadWrite is shorthand for a topic both readable and writable
// externally (no validation-pair indirection needed).
func RegisterReadWrite[V any](b *Builder, path string, initial *V) *Topic[V] {
	return Register(b, path, true, true, false, initial, 1)
}

// RegisterWriteOnly is shorthand for the writable side of a validation
// pair.
func RegisterWriteOnly[V any](b *Builder, path string, initial *V) *Topic[V] {
	return Register(b, path, false, true, false, initial, 1)
}

// RegisterHidden is shorthand for a topic with no external visibility at
// all, used for purely internal plumbing that still benefits from the
// broker's retained-value/subscribe machinery.
func RegisterHidden[V any](b *Builder, initial *V) *Topic[V] {
	return Register[V](b, "", false, false, false, initial, 1)
}

// Sealed is the immutable, process-wide topic registry produced by Seal. No
// new topics can appear after this point: Register panics once the Builder
// is sealed.
type Sealed struct {
	topics []AnyTopic

	topicGauge      prometheus.Gauge
	subscriberGauge prometheus.Gauge
	droppedCounter  prometheus.Counter
	lastDropped     int64
}

// Seal finishes the builder phase and returns the runtime-visible registry.
func (b *Builder) Seal(reg prometheus.Registerer) *Sealed {
	b.mu.Lock()
	b.sealed = true
	topics := append([]AnyTopic(nil), b.topics...)
	b.mu.Unlock()

	s := &Sealed{
		topics: topics,
		topicGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tacd",
			Subsystem: "broker",
			Name:      "topics",
			Help:      "Number of registered broker topics.",
		}),
		subscriberGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tacd",
			Subsystem: "broker",
			Name:      "subscribers",
			Help:      "Number of currently active subscribers (native + encoded, approximate).",
		}),
		droppedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tacd",
			Subsystem: "broker",
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers dropped for back-pressure (queue full).",
		}),
	}

	if reg != nil {
		reg.MustRegister(s.topicGauge, s.subscriberGauge, s.droppedCounter)
	}
	s.topicGauge.Set(float64(len(topics)))

	return s
}

// Topics returns the full, immutable list of registered topics.
func (s *Sealed) Topics() []AnyTopic { return s.topics }

// ByPath returns every topic registered at path (1 for a plain topic, 2 for
// a validation pair), or nil if none.
func (s *Sealed) ByPath(path string) []AnyTopic {
	var out []AnyTopic
	for _, t := range s.topics {
		if t.Path() == path {
			out = append(out, t)
		}
	}
	return out
}
