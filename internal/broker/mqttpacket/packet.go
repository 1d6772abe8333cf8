// Package mqttpacket implements the narrow MQTT 3.1.1 subset the daemon's
// web interface speaks over a WebSocket transport: CONNECT/CONNACK,
// SUBSCRIBE/SUBACK, UNSUBSCRIBE/UNSUBACK, PUBLISH (QoS 0 only), and
// PING/PINGRESP. No broker-side MQTT packet codec exists in the available
// third-party ecosystem (client libraries decode broker-sent packets, not
// encode them), so this is a deliberate, minimal standard-library codec
// rather than a generalized MQTT implementation.
package mqttpacket

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Packet type nibble values, top 4 bits of the fixed header's first byte.
const (
	typeConnect     = 1
	typeConnack     = 2
	typePublish     = 3
	typeSubscribe   = 8
	typeSuback      = 9
	typeUnsubscribe = 10
	typeUnsuback    = 11
	typePingreq     = 12
	typePingresp    = 13
)

var (
	// ErrUnsupported is returned for any packet type or flag combination
	// outside the narrow subset this package implements.
	ErrUnsupported = errors.New("mqttpacket: unsupported packet")
	errShortPacket = errors.New("mqttpacket: packet too short")
)

// Connect is a parsed CONNECT packet. Only the fields the bridge needs to
// validate are exposed; username/password/will are rejected outright since
// the web interface never sends them.
type Connect struct {
	ProtocolLevel byte
	HasUsername   bool
	HasPassword   bool
	HasWill       bool
	WillRetain    bool
}

// Subscribe is a parsed SUBSCRIBE packet: one or more topic filters, QoS
// requests are accepted but always granted at QoS 0.
type Subscribe struct {
	PacketID uint16
	Filters  []string
}

// Unsubscribe is a parsed UNSUBSCRIBE packet.
type Unsubscribe struct {
	PacketID uint16
	Filters  []string
}

// Publish is a parsed PUBLISH packet (always QoS 0, no packet identifier).
type Publish struct {
	Topic   string
	Payload []byte
	Retain  bool
	Dup     bool
}

// Decode parses a single MQTT control packet from a full WebSocket binary
// message (MQTT-over-WebSocket frames always align 1:1 with MQTT packets,
// so there is no remaining-length-driven buffering to do across messages).
// kind reports the concrete packet type; v is one of *Connect, *Subscribe,
// *Unsubscribe, *Publish, or nil for PINGREQ (which carries no payload).
func Decode(msg []byte) (kind byte, v any, err error) {
	if len(msg) < 2 {
		return 0, nil, errShortPacket
	}

	typeByte := msg[0]
	kind = typeByte >> 4
	flags := typeByte & 0x0f

	remLen, n, err := decodeRemainingLength(msg[1:])
	if err != nil {
		return 0, nil, err
	}
	body := msg[1+n:]
	if len(body) < remLen {
		return 0, nil, errShortPacket
	}
	body = body[:remLen]

	switch kind {
	case typeConnect:
		c, err := decodeConnect(body)
		return kind, c, err
	case typeSubscribe:
		s, err := decodeSubscribe(body)
		return kind, s, err
	case typeUnsubscribe:
		u, err := decodeUnsubscribe(body)
		return kind, u, err
	case typePublish:
		p, err := decodePublish(body, flags)
		return kind, p, err
	case typePingreq:
		return kind, nil, nil
	default:
		return kind, nil, ErrUnsupported
	}
}

func decodeRemainingLength(b []byte) (value int, consumed int, err error) {
	multiplier := 1
	for i := 0; i < 4 && i < len(b); i++ {
		value += int(b[i]&0x7f) * multiplier
		consumed++
		if b[i]&0x80 == 0 {
			return value, consumed, nil
		}
		multiplier *= 128
	}
	return 0, 0, errors.New("mqttpacket: malformed remaining length")
}

func encodeRemainingLength(buf *bytes.Buffer, length int) {
	for {
		b := byte(length % 128)
		length /= 128
		if length > 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if length == 0 {
			return
		}
	}
}

func readUTF8String(b []byte) (s string, rest []byte, err error) {
	if len(b) < 2 {
		return "", nil, errShortPacket
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	if len(b) < 2+n {
		return "", nil, errShortPacket
	}
	return string(b[2 : 2+n]), b[2+n:], nil
}

func writeUTF8String(buf *bytes.Buffer, s string) {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	buf.Write(l[:])
	buf.WriteString(s)
}

func decodeConnect(b []byte) (*Connect, error) {
	protoName, rest, err := readUTF8String(b)
	if err != nil || protoName != "MQTT" {
		return nil, ErrUnsupported
	}
	if len(rest) < 2 {
		return nil, errShortPacket
	}
	level := rest[0]
	connFlags := rest[1]

	c := &Connect{
		ProtocolLevel: level,
		HasUsername:   connFlags&0x80 != 0,
		HasPassword:   connFlags&0x40 != 0,
		WillRetain:    connFlags&0x20 != 0,
		HasWill:       connFlags&0x04 != 0,
	}
	return c, nil
}

func decodeSubscribe(b []byte) (*Subscribe, error) {
	if len(b) < 2 {
		return nil, errShortPacket
	}
	s := &Subscribe{PacketID: binary.BigEndian.Uint16(b[:2])}
	b = b[2:]

	for len(b) > 0 {
		filter, rest, err := readUTF8String(b)
		if err != nil {
			return nil, err
		}
		if len(rest) < 1 {
			return nil, errShortPacket
		}
		s.Filters = append(s.Filters, filter)
		b = rest[1:] // skip requested QoS byte
	}

	if len(s.Filters) == 0 {
		return nil, errors.New("mqttpacket: subscribe with no filters")
	}
	return s, nil
}

func decodeUnsubscribe(b []byte) (*Unsubscribe, error) {
	if len(b) < 2 {
		return nil, errShortPacket
	}
	u := &Unsubscribe{PacketID: binary.BigEndian.Uint16(b[:2])}
	b = b[2:]

	for len(b) > 0 {
		filter, rest, err := readUTF8String(b)
		if err != nil {
			return nil, err
		}
		u.Filters = append(u.Filters, filter)
		b = rest
	}
	return u, nil
}

func decodePublish(b []byte, flags byte) (*Publish, error) {
	qos := (flags >> 1) & 0x03
	dup := flags&0x08 != 0
	retain := flags&0x01 != 0

	if qos != 0 {
		return nil, ErrUnsupported
	}

	topic, rest, err := readUTF8String(b)
	if err != nil {
		return nil, err
	}

	return &Publish{Topic: topic, Payload: rest, Retain: retain, Dup: dup}, nil
}

// EncodeConnack builds a CONNACK packet accepting the connection.
func EncodeConnack() []byte {
	var buf bytes.Buffer
	buf.WriteByte(typeConnack << 4)
	encodeRemainingLength(&buf, 2)
	buf.WriteByte(0x00) // session present: false
	buf.WriteByte(0x00) // return code: accepted
	return buf.Bytes()
}

// EncodeSuback builds a SUBACK granting every filter at QoS 0.
func EncodeSuback(packetID uint16, count int) []byte {
	var body bytes.Buffer
	var id [2]byte
	binary.BigEndian.PutUint16(id[:], packetID)
	body.Write(id[:])
	for i := 0; i < count; i++ {
		body.WriteByte(0x00)
	}

	var buf bytes.Buffer
	buf.WriteByte(typeSuback << 4)
	encodeRemainingLength(&buf, body.Len())
	buf.Write(body.Bytes())
	return buf.Bytes()
}

// EncodeUnsuback builds an UNSUBACK.
func EncodeUnsuback(packetID uint16) []byte {
	var buf bytes.Buffer
	buf.WriteByte(typeUnsuback << 4)
	encodeRemainingLength(&buf, 2)
	var id [2]byte
	binary.BigEndian.PutUint16(id[:], packetID)
	buf.Write(id[:])
	return buf.Bytes()
}

// EncodePublish builds a QoS 0, non-retained, non-dup PUBLISH packet.
func EncodePublish(topic string, payload []byte) []byte {
	var body bytes.Buffer
	writeUTF8String(&body, topic)
	body.Write(payload)

	var buf bytes.Buffer
	buf.WriteByte(typePublish << 4)
	encodeRemainingLength(&buf, body.Len())
	buf.Write(body.Bytes())
	return buf.Bytes()
}

// EncodePingresp builds a PINGRESP packet.
func EncodePingresp() []byte {
	return []byte{typePingresp << 4, 0x00}
}
