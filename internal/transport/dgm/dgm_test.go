package dgm

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntakeDeliversDatagram(t *testing.T) {
	out := make(chan IngressMessage, 4)
	var oversized int
	intake, err := BindIntake("UAV_2", "127.0.0.1:0", out, func() { oversized++ })
	require.NoError(t, err)
	go intake.Run()
	defer intake.Close()

	addr := intake.conn.LocalAddr().(*net.UDPAddr)
	sender, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write([]byte("UAV_2  3010"))
	require.NoError(t, err)

	select {
	case msg := <-out:
		assert.Equal(t, "UAV_2", msg.UAV)
		assert.Equal(t, []byte("UAV_2  3010"), msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
	assert.Equal(t, 0, oversized)
}

func TestIntakeDeliversExactBufferSizeDatagramWhole(t *testing.T) {
	out := make(chan IngressMessage, 4)
	var oversized int
	intake, err := BindIntake("UAV_4", "127.0.0.1:0", out, func() { oversized++ })
	require.NoError(t, err)
	go intake.Run()
	defer intake.Close()

	addr := intake.conn.LocalAddr().(*net.UDPAddr)
	sender, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer sender.Close()

	payload := make([]byte, bufferSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = sender.Write(payload)
	require.NoError(t, err)

	select {
	case msg := <-out:
		assert.Equal(t, payload, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exact-buffer-size datagram")
	}
	assert.Equal(t, 0, oversized)
}

func TestIntakeDropsOversizedDatagram(t *testing.T) {
	out := make(chan IngressMessage, 4)
	oversizedCh := make(chan struct{}, 1)
	intake, err := BindIntake("UAV_3", "127.0.0.1:0", out, func() { oversizedCh <- struct{}{} })
	require.NoError(t, err)
	go intake.Run()
	defer intake.Close()

	addr := intake.conn.LocalAddr().(*net.UDPAddr)
	sender, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer sender.Close()

	oversized := make([]byte, bufferSize+1)
	_, err = sender.Write(oversized)
	require.NoError(t, err)

	select {
	case <-oversizedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected oversized callback to fire")
	}

	select {
	case <-out:
		t.Fatal("oversized datagram should not be delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEgressWireFormat(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer listener.Close()

	egress, err := DialEgress(listener.LocalAddr().String())
	require.NoError(t, err)
	defer egress.Close()

	require.NoError(t, egress.Send("mapping_UAV_2", []byte("UAV_2  3010")))

	buf := make([]byte, bufferSize)
	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "mapping_UAV_2|UAV_2  3010", string(buf[:n]))
}
