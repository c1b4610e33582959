package rel

import (
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/", addr)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestTelemetryIntakeDeliversPayloadWithSourceIdentity(t *testing.T) {
	out := make(chan IngressMessage, 4)
	intake, err := BindTelemetryIntake("UAV_1", "127.0.0.1:0", out)
	require.NoError(t, err)
	errs := make(chan error, 1)
	intake.Serve(errs)
	defer intake.Close()

	conn := dialWS(t, intake.Addr())
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("UAV_1  1001")))

	select {
	case msg := <-out:
		assert.Equal(t, "UAV_1", msg.UAV)
		assert.Equal(t, []byte("UAV_1  1001"), msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ingress message")
	}
}

func TestCommandEgressSendReachesConnectedUAV(t *testing.T) {
	egress, err := BindCommandEgress("UAV_2", "127.0.0.1:0")
	require.NoError(t, err)
	errs := make(chan error, 1)
	egress.Serve(errs)
	defer egress.Close()

	conn := dialWS(t, egress.Addr())

	// give the server a moment to register the connection before sending.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, egress.Send([]byte("[camera-ui] takeoff")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, body, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "[camera-ui] takeoff", string(body))
}

func TestCommandEgressSendWithNoConnectionErrors(t *testing.T) {
	egress, err := BindCommandEgress("UAV_3", "127.0.0.1:0")
	require.NoError(t, err)
	errs := make(chan error, 1)
	egress.Serve(errs)
	defer egress.Close()

	assert.Error(t, egress.Send([]byte("go")))
}

func TestPublisherBroadcastsTwoFrameEnvelope(t *testing.T) {
	pub, err := BindPublisher("127.0.0.1:0")
	require.NoError(t, err)
	errs := make(chan error, 1)
	pub.Serve(errs)
	defer pub.Close()

	conn := dialWS(t, pub.Addr())
	time.Sleep(50 * time.Millisecond)

	delivered, err := pub.Publish("mapping_UAV_1", []byte("UAV_1  1001"))
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, topicFrame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "mapping_UAV_1", string(topicFrame))

	_, payloadFrame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "UAV_1  1001", string(payloadFrame))
}

func TestPublisherWithNoSubscribersDeliversZero(t *testing.T) {
	pub, err := BindPublisher("127.0.0.1:0")
	require.NoError(t, err)
	errs := make(chan error, 1)
	pub.Serve(errs)
	defer pub.Close()

	delivered, err := pub.Publish("unknown_UAV_1", []byte("xyz"))
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
}

func TestCommandIntakeForwardsRawBody(t *testing.T) {
	out := make(chan []byte, 4)
	intake, err := BindCommandIntake("127.0.0.1:0", out)
	require.NoError(t, err)
	errs := make(chan error, 1)
	intake.Serve(errs)
	defer intake.Close()

	conn := dialWS(t, intake.Addr())
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("UAV_2:[camera-ui] takeoff")))

	select {
	case body := <-out:
		assert.Equal(t, "UAV_2:[camera-ui] takeoff", string(body))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
	}
}
