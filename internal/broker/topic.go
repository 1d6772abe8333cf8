// Package broker implements the in-process, path-addressed publish/subscribe
// topic store described for the control plane: typed topics with a retained
// ring of values, native and JSON-encoded subscriber lists, and atomic
// read-modify-write.
package broker

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// subscribersDropped counts subscribers removed for back-pressure (queue
// full) across every topic in the process, surfaced via Sealed's prometheus
// counter in metrics.go.
var subscribersDropped atomic.Int64

// retainedValue holds one entry of a topic's retained ring plus a lazily
// computed JSON encoding, cached across all encoded subscribers of a single
// set().
type retainedValue[V any] struct {
	value    V
	encoded  []byte
	hasCache bool
}

func (r *retainedValue[V]) encode() ([]byte, error) {
	if !r.hasCache {
		b, err := json.Marshal(r.value)
		if err != nil {
			return nil, err
		}
		r.encoded = b
		r.hasCache = true
	}
	return r.encoded, nil
}

// nativeSub is one native (typed) subscriber: a channel of V guarded by a
// unique token so it can be found again on Unsubscribe.
type nativeSub[V any] struct {
	token uuid.UUID
	ch    chan V
}

// encodedSub is one encoded (path, json-bytes) subscriber.
type encodedSub struct {
	token uuid.UUID
	ch    chan EncodedMessage
}

// EncodedMessage is delivered to encoded subscribers: the topic path the
// value came from, and its cached JSON encoding.
type EncodedMessage struct {
	Path  string
	Bytes []byte
}

// Topic is a single typed, path-addressed pub/sub slot. Topics are created
// once at startup by a Builder and are never destroyed for the life of the
// process.
type Topic[V any] struct {
	path       string
	readable   bool
	writable   bool
	persistent bool

	retainedLen int

	mu       sync.Mutex // guards retained
	retained []retainedValue[V]

	nativeMu sync.Mutex // guards native, acquired after mu, before encodedMu
	native   []nativeSub[V]

	encodedMu sync.Mutex // guards encoded, acquired last
	encoded   []encodedSub
}

// newTopic constructs a sealed-registry entry. Not exported: only the
// Builder may create topics.
func newTopic[V any](path string, readable, writable, persistent bool, retainedLen int, initial *V) *Topic[V] {
	if retainedLen < 1 {
		retainedLen = 1
	}

	t := &Topic[V]{
		path:        path,
		readable:    readable,
		writable:    writable,
		persistent:  persistent,
		retainedLen: retainedLen,
	}

	if initial != nil {
		t.retained = append(t.retained, retainedValue[V]{value: *initial})
	}

	return t
}

// DroppedSubscribers returns the total number of subscribers dropped for
// back-pressure across every topic in the process, for metrics.go's counter.
func DroppedSubscribers() int64 { return subscribersDropped.Load() }

// Path returns the topic's registered path.
func (t *Topic[V]) Path() string { return t.path }

// Readable reports whether this topic's value may be read by external
// transports (REST GET, MQTT PUBLISH-on-subscribe).
func (t *Topic[V]) Readable() bool { return t.readable }

// Writable reports whether this topic accepts external writes (REST PUT/
// POST, MQTT PUBLISH).
func (t *Topic[V]) Writable() bool { return t.writable }

// Persistent reports whether this topic's retained value is snapshotted to
// disk by the persistence component.
func (t *Topic[V]) Persistent() bool { return t.persistent }

// Get returns the current retained value, if any.
func (t *Topic[V]) Get() (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.retained) == 0 {
		var zero V
		return zero, false
	}

	return t.retained[len(t.retained)-1].value, true
}

// Set installs a new retained value and delivers it to every subscriber.
//
// Lock order is fixed: retained -> native -> encoded. All delivery paths in
// this package must follow that order to avoid deadlocks (see DESIGN.md).
func (t *Topic[V]) Set(v V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.setLocked(v)
}

func (t *Topic[V]) setLocked(v V) {
	t.retained = append(t.retained, retainedValue[V]{value: v})
	if len(t.retained) > t.retainedLen {
		t.retained = t.retained[len(t.retained)-t.retainedLen:]
	}
	rv := &t.retained[len(t.retained)-1]

	// Compute the list of sends to perform while holding the subscriber
	// locks, but never await (block) while holding them: deliveries below
	// are non-blocking channel sends only.
	t.nativeMu.Lock()
	kept := t.native[:0]
	for _, s := range t.native {
		switch trySendNative(s.ch, v) {
		case sendOK:
			kept = append(kept, s)
		case sendFull:
			subscribersDropped.Add(1)
			closeSubscriberChannel(s.ch)
		case sendClosed:
			// already closed by the receiving side, just drop it
		}
	}
	t.native = kept
	t.nativeMu.Unlock()

	// Encoding is computed once per Set (on demand, only if there are any
	// encoded subscribers to receive it) and shared by all of them.
	t.encodedMu.Lock()
	if len(t.encoded) > 0 {
		if cached, err := rv.encode(); err == nil {
			msg := EncodedMessage{Path: t.path, Bytes: cached}
			kept := t.encoded[:0]
			for _, s := range t.encoded {
				switch trySendEncoded(s.ch, msg) {
				case sendOK:
					kept = append(kept, s)
				case sendFull:
					subscribersDropped.Add(1)
					closeEncodedChannel(s.ch)
				case sendClosed:
				}
			}
			t.encoded = kept
		}
	}
	t.encodedMu.Unlock()
}

type sendOutcome int

const (
	sendOK sendOutcome = iota
	sendFull
	sendClosed
)

// trySendNative attempts a non-blocking send, treating a send to an
// already-closed channel (the receiver unsubscribed by closing its end) as
// sendClosed instead of letting it panic.
func trySendNative[V any](ch chan V, v V) (outcome sendOutcome) {
	defer func() {
		if recover() != nil {
			outcome = sendClosed
		}
	}()

	select {
	case ch <- v:
		return sendOK
	default:
		return sendFull
	}
}

func trySendEncoded(ch chan EncodedMessage, msg EncodedMessage) (outcome sendOutcome) {
	defer func() {
		if recover() != nil {
			outcome = sendClosed
		}
	}()

	select {
	case ch <- msg:
		return sendOK
	default:
		return sendFull
	}
}

func closeSubscriberChannel[V any](ch chan V) {
	defer func() { recover() }()
	close(ch)
}

func closeEncodedChannel(ch chan EncodedMessage) {
	defer func() { recover() }()
	close(ch)
}

// Modify performs an atomic read-modify-write: f is called with the current
// value (false if absent) and if it returns ok=true the returned value is
// installed exactly as Set would. Modify serializes against concurrent
// Set/Modify calls on the same topic.
func (t *Topic[V]) Modify(f func(old V, hasOld bool) (V, bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var old V
	hasOld := false
	if len(t.retained) > 0 {
		old = t.retained[len(t.retained)-1].value
		hasOld = true
	}

	if nv, ok := f(old, hasOld); ok {
		t.setLocked(nv)
	}
}

// NativeSubHandle is returned by SubscribeNative and can be used to remove
// the subscription again.
type NativeSubHandle[V any] struct {
	topic *Topic[V]
	token uuid.UUID
}

// Unsubscribe removes this native subscription. Safe to call more than
// once, and safe if the subscriber was already dropped by back-pressure.
func (h *NativeSubHandle[V]) Unsubscribe() {
	h.topic.nativeMu.Lock()
	defer h.topic.nativeMu.Unlock()

	for i, s := range h.topic.native {
		if s.token == h.token {
			h.topic.native = append(h.topic.native[:i], h.topic.native[i+1:]...)
			return
		}
	}
}

// SubscribeNative adds ch to the topic's native subscriber list. The queue
// is not replayed: a subscriber only sees values set after it subscribed.
func (t *Topic[V]) SubscribeNative(ch chan V) *NativeSubHandle[V] {
	token := uuid.New()

	t.nativeMu.Lock()
	t.native = append(t.native, nativeSub[V]{token: token, ch: ch})
	t.nativeMu.Unlock()

	return &NativeSubHandle[V]{topic: t, token: token}
}

// SubscribeUnboundedNative creates an unbounded-ish (large buffer) queue and
// subscribes it, for internal consumers that must never be dropped for
// back-pressure (e.g. the supervisor's own request listener).
func (t *Topic[V]) SubscribeUnboundedNative() (<-chan V, *NativeSubHandle[V]) {
	ch := make(chan V, 4096)
	return ch, t.SubscribeNative(ch)
}

// EncodedSubHandle is returned by SubscribeEncoded.
type EncodedSubHandle struct {
	unsubscribe func()
}

// Unsubscribe removes this encoded subscription.
func (h *EncodedSubHandle) Unsubscribe() {
	h.unsubscribe()
}

// SubscribeEncoded adds ch to the topic's encoded subscriber list. If
// replayRetained is true and a retained value exists, it is sent once,
// synchronously, before returning. The MQTT bridge and the persistence
// saver subscribe through SubscribeAsBytesErased, which never replays; the
// MQTT bridge sends the retained value itself after its SUBACK.
func (t *Topic[V]) SubscribeEncoded(ch chan EncodedMessage, replayRetained bool) (*EncodedSubHandle, error) {
	token := uuid.New()

	if replayRetained {
		t.mu.Lock()
		if len(t.retained) > 0 {
			enc, err := t.retained[len(t.retained)-1].encode()
			t.mu.Unlock()
			if err != nil {
				return nil, err
			}
			select {
			case ch <- EncodedMessage{Path: t.path, Bytes: enc}:
			default:
			}
		} else {
			t.mu.Unlock()
		}
	}

	t.encodedMu.Lock()
	t.encoded = append(t.encoded, encodedSub{token: token, ch: ch})
	t.encodedMu.Unlock()

	return &EncodedSubHandle{unsubscribe: func() {
		t.encodedMu.Lock()
		defer t.encodedMu.Unlock()
		for i, s := range t.encoded {
			if s.token == token {
				t.encoded = append(t.encoded[:i], t.encoded[i+1:]...)
				return
			}
		}
	}}, nil
}

// --- Type-erased surface for transports (AnyTopic) ---

// TryGetAsBytes returns the current retained value JSON-encoded, or false
// if there is none yet.
func (t *Topic[V]) TryGetAsBytes() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.retained) == 0 {
		return nil, false
	}

	b, err := t.retained[len(t.retained)-1].encode()
	if err != nil {
		return nil, false
	}
	return b, true
}

// SetFromBytes decodes msg as JSON into V and Sets it. It returns an error
// (and sets nothing) on malformed JSON.
func (t *Topic[V]) SetFromBytes(msg []byte) error {
	var v V
	if err := json.Unmarshal(msg, &v); err != nil {
		return err
	}
	t.Set(v)
	return nil
}

// TryGetJSONValue returns the current retained value as a generic
// json.RawMessage-able interface{}, used by the persistence saver.
func (t *Topic[V]) TryGetJSONValue() (any, bool) {
	b, ok := t.TryGetAsBytes()
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, false
	}
	return v, true
}

// SetFromJSONValue accepts an already-decoded JSON value (as produced by
// encoding/json when unmarshaling into interface{}), re-marshals it and
// Sets it. Used by persistence load, where the whole file has already been
// parsed into a map[string]any.
func (t *Topic[V]) SetFromJSONValue(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.SetFromBytes(b)
}

// SubscribeAsBytesErased subscribes ch (without retained replay) and returns
// a type-erased handle, for transports that only hold []AnyTopic.
func (t *Topic[V]) SubscribeAsBytesErased(ch chan EncodedMessage) (AnySubHandle, error) {
	return t.SubscribeEncoded(ch, false)
}

// SubscriberCount returns the current number of native plus encoded
// subscribers, for metrics.go's gauge.
func (t *Topic[V]) SubscriberCount() int {
	t.nativeMu.Lock()
	n := len(t.native)
	t.nativeMu.Unlock()

	t.encodedMu.Lock()
	n += len(t.encoded)
	t.encodedMu.Unlock()

	return n
}
