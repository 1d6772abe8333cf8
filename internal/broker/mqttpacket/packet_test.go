package mqttpacket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildConnect(protoName string, level, flags byte) []byte {
	body := []byte{0, byte(len(protoName))}
	body = append(body, protoName...)
	body = append(body, level, flags, 0, 60) // keepalive, unused here
	var pkt []byte
	pkt = append(pkt, typeConnect<<4)
	pkt = append(pkt, byte(len(body)))
	pkt = append(pkt, body...)
	return pkt
}

func TestDecodeConnectAccepted(t *testing.T) {
	pkt := buildConnect("MQTT", 4, 0x02) // clean session, no will/user/pass

	kind, v, err := Decode(pkt)
	require.NoError(t, err)
	assert.EqualValues(t, typeConnect, kind)

	c, ok := v.(*Connect)
	require.True(t, ok)
	assert.EqualValues(t, 4, c.ProtocolLevel)
	assert.False(t, c.HasUsername)
	assert.False(t, c.HasPassword)
	assert.False(t, c.HasWill)
}

func TestDecodeConnectWithCredentialsFlagged(t *testing.T) {
	pkt := buildConnect("MQTT", 4, 0xC4) // username+password+will

	_, v, err := Decode(pkt)
	require.NoError(t, err)
	c := v.(*Connect)
	assert.True(t, c.HasUsername)
	assert.True(t, c.HasPassword)
	assert.True(t, c.HasWill)
}

func TestDecodeConnectWrongProtocolNameRejected(t *testing.T) {
	pkt := buildConnect("MQIsdp", 3, 0x02)

	_, _, err := Decode(pkt)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestDecodeSubscribeMultipleFilters(t *testing.T) {
	var body []byte
	body = append(body, 0, 7) // packet id

	appendFilter := func(f string) {
		body = append(body, 0, byte(len(f)))
		body = append(body, f...)
		body = append(body, 0) // requested QoS
	}
	appendFilter("/v1/a")
	appendFilter("/v1/+/state")

	var pkt []byte
	pkt = append(pkt, typeSubscribe<<4|0x02)
	pkt = append(pkt, byte(len(body)))
	pkt = append(pkt, body...)

	kind, v, err := Decode(pkt)
	require.NoError(t, err)
	assert.EqualValues(t, typeSubscribe, kind)

	s := v.(*Subscribe)
	assert.EqualValues(t, 7, s.PacketID)
	assert.Equal(t, []string{"/v1/a", "/v1/+/state"}, s.Filters)
}

func TestDecodePublishQoS0(t *testing.T) {
	var body []byte
	body = append(body, 0, 5)
	body = append(body, "/v1/a"...)
	body = append(body, "hello"...)

	var pkt []byte
	pkt = append(pkt, typePublish<<4) // qos 0, no dup, no retain
	pkt = append(pkt, byte(len(body)))
	pkt = append(pkt, body...)

	_, v, err := Decode(pkt)
	require.NoError(t, err)

	p := v.(*Publish)
	assert.Equal(t, "/v1/a", p.Topic)
	assert.Equal(t, []byte("hello"), p.Payload)
	assert.False(t, p.Retain)
}

func TestDecodePublishQoS1Rejected(t *testing.T) {
	var body []byte
	body = append(body, 0, 5)
	body = append(body, "/v1/a"...)

	var pkt []byte
	pkt = append(pkt, typePublish<<4|0x02) // qos 1
	pkt = append(pkt, byte(len(body)))
	pkt = append(pkt, body...)

	_, _, err := Decode(pkt)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestDecodeShortPacket(t *testing.T) {
	_, _, err := Decode([]byte{typeConnect << 4})
	assert.Error(t, err)
}

func TestEncodeDecodeRemainingLengthLargeBody(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	pkt := EncodePublish("/v1/big", payload)

	_, v, err := Decode(pkt)
	require.NoError(t, err)
	p := v.(*Publish)
	assert.Equal(t, payload, p.Payload)
}

func TestEncodeSubackGrantsQoS0PerFilter(t *testing.T) {
	pkt := EncodeSuback(9, 3)
	assert.Equal(t, byte(typeSuback<<4), pkt[0])
	// remaining length = 2 (packet id) + 3 (one return code per filter) = 5
	assert.Equal(t, byte(5), pkt[1])
}
