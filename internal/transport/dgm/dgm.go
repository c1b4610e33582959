// Package dgm implements the broker's datagram (UDP) transport: one bound
// socket per UAV for ingress, and an advertised-port sender for UI egress.
// Grounded on the statsd_exporter relay package's net.ListenUDP/WriteToUDP
// usage and on the original UdpManager's per-UAV bound-socket model (source
// identity is the socket's binding, never the sender's address).
package dgm

import (
	"fmt"
	"net"
	"sync"
)

// bufferSize is sized well above the ≥2 KiB spec.md §4.3 requires so a
// legitimate payload never collides with the oversized-drop path below.
// The read buffer itself is one byte larger (see Run) so a datagram of
// exactly bufferSize bytes reads as n == bufferSize, not n == cap(buf),
// and is therefore delivered whole rather than mistaken for truncated.
const bufferSize = 4096

// IngressMessage is one datagram received on a UAV's bound socket.
type IngressMessage struct {
	UAV     string
	Payload []byte
}

// Intake is a UDP socket bound for one UAV's telemetry ingress.
type Intake struct {
	uav  string
	conn *net.UDPConn
	out  chan<- IngressMessage

	onOversized func()

	stop chan struct{}
	done chan struct{}
}

// BindIntake binds a UDP socket for uav's telemetry datagrams. A bind
// failure here aborts startup per spec.md §4.5 step 4.
func BindIntake(uav, addr string, out chan<- IngressMessage, onOversized func()) (*Intake, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp intake address %s for uav %s: %w", addr, uav, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("bind udp intake socket for uav %s on %s: %w", uav, addr, err)
	}
	return &Intake{
		uav:         uav,
		conn:        conn,
		out:         out,
		onOversized: onOversized,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Run drives the read loop for this socket until Close is called. Each
// completed read immediately posts the next one, per spec.md §4.3: "reads
// post a new async read immediately after each completion."
func (i *Intake) Run() {
	defer close(i.done)

	buf := make([]byte, bufferSize+1)
	for {
		select {
		case <-i.stop:
			return
		default:
		}

		n, err := i.conn.Read(buf)
		if err != nil {
			// Socket closed during shutdown is expected; anything else
			// is a permanent transport error per spec.md §7 and ends
			// this socket's loop.
			return
		}

		if n > bufferSize {
			// The buffer is one byte wider than bufferSize, so reading
			// more than bufferSize only happens for a genuinely
			// oversized datagram — an exact-bufferSize payload reads as
			// n == bufferSize and falls through to delivery below, per
			// spec.md §8 invariant 8.
			if i.onOversized != nil {
				i.onOversized()
			}
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		i.out <- IngressMessage{UAV: i.uav, Payload: payload}
	}
}

// Addr returns the socket's actual bound address.
func (i *Intake) Addr() string { return i.conn.LocalAddr().String() }

// Close cancels the read loop and releases the socket.
func (i *Intake) Close() error {
	close(i.stop)
	err := i.conn.Close()
	<-i.done
	return err
}

// Egress sends classified telemetry on to UI datagram listeners. One
// Egress exists per UI listener stream (camera, mapping); spec.md §4.3
// reserves a third, command, port that no code path in the original binds
// — see internal/broker for that reserved-but-unused handling.
type Egress struct {
	mu   sync.Mutex
	conn *net.UDPConn
}

// DialEgress resolves the UI's advertised datagram listener address. The
// broker only ever sends here; it never binds this port itself.
func DialEgress(addr string) (*Egress, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp egress address %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial udp egress socket %s: %w", addr, err)
	}
	return &Egress{conn: conn}, nil
}

// Send writes "<fullTopic>|<payload>" as a single UDP packet, the only
// place the broker encodes topic into a datagram body (spec.md §4.3).
func (e *Egress) Send(fullTopic string, payload []byte) error {
	body := make([]byte, 0, len(fullTopic)+1+len(payload))
	body = append(body, fullTopic...)
	body = append(body, '|')
	body = append(body, payload...)

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.conn.Write(body)
	return err
}

func (e *Egress) Close() error {
	return e.conn.Close()
}
