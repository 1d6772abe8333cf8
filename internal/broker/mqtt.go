package broker

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/linux-automation/tacd-go/internal/broker/mqttpacket"
	"github.com/linux-automation/tacd-go/pkg/log"
)

// maxQueueLength bounds the outgoing-message queue per connection. The
// websocket write side is assumed to provide its own back-pressure; once the
// queue is full the connection is dropped so a stalled client gets a clear
// signal that its view is stale rather than silently falling behind.
const maxQueueLength = 256

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{"mqttv3.1", "mqtt"},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MQTTHandler upgrades to a WebSocket and speaks the narrow MQTT 3.1.1
// subset over it, one goroutine pair (reader + writer) per connection.
func (s *Sealed) MQTTHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("mqtt: websocket upgrade failed: %s", err)
			return
		}
		defer conn.Close()

		s.handleMQTTConnection(conn)
	}
}

type mqttSubscription struct {
	filter  string
	handles []AnySubHandle
}

func (s *Sealed) handleMQTTConnection(conn *websocket.Conn) {
	_, first, err := conn.ReadMessage()
	if err != nil {
		return
	}

	kind, v, err := mqttpacket.Decode(first)
	if err != nil || kind != 1 {
		return
	}
	connect, ok := v.(*mqttpacket.Connect)
	if !ok {
		return
	}

	// Reject anything outside the subset the web interface actually uses:
	// no auth, no will, protocol level 3.1.1 (level 4) exactly.
	if connect.HasUsername || connect.HasPassword || connect.HasWill || connect.WillRetain || connect.ProtocolLevel != 4 {
		return
	}

	var writerDone, faninDone sync.WaitGroup

	writeCh := make(chan []byte, maxQueueLength)
	writerDone.Add(1)
	go func() {
		defer writerDone.Done()
		for msg := range writeCh {
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		}
	}()

	enqueue := func(msg []byte) bool {
		select {
		case writeCh <- msg:
			return true
		default:
			return false
		}
	}

	if !enqueue(mqttpacket.EncodeConnack()) {
		return
	}

	subscriptions := make(map[string]*mqttSubscription)
	unsubscribeAll := func() {
		for _, sub := range subscriptions {
			for _, h := range sub.handles {
				h.Unsubscribe()
			}
		}
	}

	// One channel per connection carries every encoded message from every
	// topic this connection is subscribed to; a background goroutine drains
	// it into the outgoing write queue. The drain ends when the write queue
	// is full or when fanin is closed (by the broker dropping this
	// subscriber for back-pressure, or by teardown below); it then closes
	// the connection so the read loop ends as well.
	fanin := make(chan EncodedMessage, maxQueueLength)
	faninDone.Add(1)
	go func() {
		defer faninDone.Done()
		defer conn.Close()
		for msg := range fanin {
			if !enqueue(mqttpacket.EncodePublish(msg.Path, msg.Bytes)) {
				break
			}
		}
	}()

	// Shutdown order matters: stop feeding the fan-in drain goroutine and
	// wait for it to actually exit (it calls enqueue, i.e. sends on
	// writeCh) before closing writeCh, so the writer goroutine never races
	// a send against that close.
	defer func() {
		closeEncodedChannel(fanin) // the broker may already have closed it
		unsubscribeAll()
		faninDone.Wait()
		close(writeCh)
		writerDone.Wait()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		kind, v, err := mqttpacket.Decode(data)
		if err != nil {
			break
		}

		switch kind {
		case 8: // SUBSCRIBE
			pkg := v.(*mqttpacket.Subscribe)
			if !enqueue(mqttpacket.EncodeSuback(pkg.PacketID, len(pkg.Filters))) {
				return
			}

			for _, filter := range pkg.Filters {
				var handles []AnySubHandle

				for _, t := range s.topics {
					if !t.Readable() || !mqttpacket.Matches(filter, t.Path()) {
						continue
					}

					if retained, ok := t.TryGetAsBytes(); ok {
						if !enqueue(mqttpacket.EncodePublish(t.Path(), retained)) {
							return
						}
					}

					h, err := t.SubscribeAsBytesErased(fanin)
					if err != nil {
						continue
					}
					handles = append(handles, h)
				}

				// A repeated SUBSCRIBE on the same filter replaces the old
				// subscription rather than adding to it.
				if old, exists := subscriptions[filter]; exists {
					for _, h := range old.handles {
						h.Unsubscribe()
					}
				}
				subscriptions[filter] = &mqttSubscription{filter: filter, handles: handles}
			}

		case 10: // UNSUBSCRIBE
			pkg := v.(*mqttpacket.Unsubscribe)
			for _, filter := range pkg.Filters {
				if sub, ok := subscriptions[filter]; ok {
					for _, h := range sub.handles {
						h.Unsubscribe()
					}
					delete(subscriptions, filter)
				}
			}
			if !enqueue(mqttpacket.EncodeUnsuback(pkg.PacketID)) {
				return
			}

		case 3: // PUBLISH
			pkg := v.(*mqttpacket.Publish)
			if pkg.Dup || !pkg.Retain {
				return
			}

			for _, t := range s.topics {
				if t.Writable() && t.Path() == pkg.Topic {
					if err := t.SetFromBytes(pkg.Payload); err != nil {
						log.Warnf("mqtt: publish to %q: %s", pkg.Topic, err)
						return
					}
					break
				}
			}

		case 12: // PINGREQ
			if !enqueue(mqttpacket.EncodePingresp()) {
				return
			}

		default:
			return
		}
	}
}
