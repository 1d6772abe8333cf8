package broker

// AnySubHandle is the type-erased form of the per-topic subscription
// handles, sufficient for transports that only deal with AnyTopic.
type AnySubHandle interface {
	Unsubscribe()
}

// AnyTopic is the capability set transports need to treat a Topic[V]
// uniformly without reflection: path/flags, byte-level get/set, and
// byte-level subscribe. Each Topic[V] implements it with encoding/json on
// its own value type.
type AnyTopic interface {
	Path() string
	Readable() bool
	Writable() bool
	Persistent() bool

	TryGetAsBytes() ([]byte, bool)
	SetFromBytes(msg []byte) error

	TryGetJSONValue() (any, bool)
	SetFromJSONValue(v any) error

	SubscribeAsBytesErased(ch chan EncodedMessage) (AnySubHandle, error)

	SubscriberCount() int
}

var _ AnyTopic = (*Topic[int])(nil)
