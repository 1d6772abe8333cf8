package broker

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func rawConnect() []byte {
	body := []byte{0, 4}
	body = append(body, "MQTT"...)
	body = append(body, 4, 0x02, 0, 60) // level 4, clean session, keepalive 60
	return append([]byte{1 << 4, byte(len(body))}, body...)
}

func rawSubscribe(packetID uint16, filter string) []byte {
	body := []byte{byte(packetID >> 8), byte(packetID)}
	body = append(body, byte(len(filter)>>8), byte(len(filter)))
	body = append(body, filter...)
	body = append(body, 0)
	return append([]byte{8<<4 | 0x02, byte(len(body))}, body...)
}

func rawPublish(topic, payload string, dup, retain bool) []byte {
	body := []byte{byte(len(topic) >> 8), byte(len(topic))}
	body = append(body, topic...)
	body = append(body, payload...)

	var flags byte
	if dup {
		flags |= 0x08
	}
	if retain {
		flags |= 0x01
	}

	return append([]byte{3<<4 | flags, byte(len(body))}, body...)
}

func dialMQTT(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	dialer := websocket.Dialer{Subprotocols: []string{"mqttv3.1"}}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, rawConnect()))
	_, ack, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte(2<<4), ack[0], "expected a CONNACK")

	return conn
}

func TestMQTTConnectAndSubscribeReceivesRetainedValue(t *testing.T) {
	b := NewBuilder()
	topic := RegisterReadOnly[string](b, "/v1/test/greeting", nil)
	topic.Set("hello")
	sealed := b.Seal(nil)

	server := httptest.NewServer(sealed.MQTTHandler())
	defer server.Close()

	conn := dialMQTT(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, rawSubscribe(1, "/v1/test/greeting")))

	_, suback, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte(9<<4), suback[0], "expected a SUBACK")

	_, publish, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte(3<<4), publish[0], "expected the retained value replayed as PUBLISH")
}

func TestMQTTLiveUpdateAfterSubscribe(t *testing.T) {
	b := NewBuilder()
	topic := RegisterReadOnly[string](b, "/v1/test/greeting", nil)
	sealed := b.Seal(nil)

	server := httptest.NewServer(sealed.MQTTHandler())
	defer server.Close()

	conn := dialMQTT(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, rawSubscribe(1, "/v1/test/greeting")))
	_, _, err := conn.ReadMessage() // SUBACK
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return topic.SubscriberCount() > 0
	}, time.Second, 5*time.Millisecond)

	topic.Set("world")

	_, publish, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte(3<<4), publish[0])
}

func TestMQTTPublishSetsWritableTopic(t *testing.T) {
	b := NewBuilder()
	topic := RegisterWriteOnly[string](b, "/v1/test/cmd", nil)
	sealed := b.Seal(nil)

	server := httptest.NewServer(sealed.MQTTHandler())
	defer server.Close()

	conn := dialMQTT(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, rawPublish("/v1/test/cmd", `"go"`, false, true)))

	require.Eventually(t, func() bool {
		v, ok := topic.Get()
		return ok && v == "go"
	}, time.Second, 5*time.Millisecond)
}

func TestMQTTPublishWithDupFlagDropsConnection(t *testing.T) {
	b := NewBuilder()
	RegisterWriteOnly[string](b, "/v1/test/cmd", nil)
	sealed := b.Seal(nil)

	server := httptest.NewServer(sealed.MQTTHandler())
	defer server.Close()

	conn := dialMQTT(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, rawPublish("/v1/test/cmd", `"go"`, true, true)))

	_, _, err := conn.ReadMessage()
	require.Error(t, err, "connection should be dropped on dup=true PUBLISH")
}

func TestMQTTPublishWithoutRetainFlagDropsConnection(t *testing.T) {
	b := NewBuilder()
	RegisterWriteOnly[string](b, "/v1/test/cmd", nil)
	sealed := b.Seal(nil)

	server := httptest.NewServer(sealed.MQTTHandler())
	defer server.Close()

	conn := dialMQTT(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, rawPublish("/v1/test/cmd", `"go"`, false, false)))

	_, _, err := conn.ReadMessage()
	require.Error(t, err, "connection should be dropped on retain=false PUBLISH")
}

func TestMQTTPublishMalformedPayloadDropsConnection(t *testing.T) {
	b := NewBuilder()
	RegisterWriteOnly[int](b, "/v1/test/cmd", nil)
	sealed := b.Seal(nil)

	server := httptest.NewServer(sealed.MQTTHandler())
	defer server.Close()

	conn := dialMQTT(t, server)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, rawPublish("/v1/test/cmd", `"not-an-int"`, false, true)))

	_, _, err := conn.ReadMessage()
	require.Error(t, err, "connection should be dropped on malformed payload")
}
