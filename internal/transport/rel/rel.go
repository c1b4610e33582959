// Package rel implements the broker's reliable (ordered, connection-
// oriented) transport. There is no message-queue library in the dependency
// set this broker draws from, so the queue-pattern abstraction spec.md
// §4.2 describes (push/pull, topic-filtered broadcast) is built on top of
// github.com/gorilla/websocket the way the teacher's dashboard server
// (wsClients map + mutex + broadcast loop) builds its own broadcast socket
// on the same library: the broker is always the passive (listening) side,
// UAVs and UIs are the connecting side, and a websocket connection gives
// ordered, reliable, framed delivery per the underlying TCP stream.
package rel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// IngressMessage is one message received on a reliable intake socket,
// tagged with the source identity carried by the socket binding itself
// (never parsed from the payload, per spec.md §3).
type IngressMessage struct {
	UAV     string
	Payload []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 2 * time.Second

// socketListener is the shared shape of every bound reliable socket: an
// http.Server upgrading every connection to a websocket, closed together
// on shutdown.
type socketListener struct {
	name     string
	addr     string
	server   *http.Server
	listener net.Listener
}

// bind starts listening on addr without yet serving, so a bind failure can
// be detected and reported before any other socket is touched (spec.md
// §4.5 step 3: "a single bind failure aborts startup").
func bind(name, addr string, handler http.Handler) (*socketListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s socket on %s: %w", name, addr, err)
	}
	return &socketListener{
		name:     name,
		addr:     addr,
		listener: ln,
		server:   &http.Server{Handler: handler},
	}, nil
}

// serve starts accepting connections in the background. Must be called
// after every socket in the startup group has bound successfully.
func (s *socketListener) serve(errs chan<- error) {
	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			errs <- fmt.Errorf("%s socket on %s: %w", s.name, s.addr, err)
		}
	}()
}

// close shuts the socket down with a bounded wait, matching the broker's
// overall ≤1s shutdown budget (spec.md §8 invariant 4).
func (s *socketListener) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// addr returns the socket's actual listening address, useful when binding
// to an ephemeral port (":0") in tests.
func (s *socketListener) addr() string {
	return s.listener.Addr().String()
}

// TelemetryIntake is the broker-side socket a single UAV pushes telemetry
// frames into. One instance per UAV with rel_telemetry_port >= 0.
type TelemetryIntake struct {
	listener *socketListener
	uav      string
	out      chan<- IngressMessage

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// BindTelemetryIntake binds the intake socket for uav without serving it.
func BindTelemetryIntake(uav, addr string, out chan<- IngressMessage) (*TelemetryIntake, error) {
	t := &TelemetryIntake{uav: uav, out: out, conns: make(map[*websocket.Conn]bool)}
	ln, err := bind("uav-telemetry-intake:"+uav, addr, http.HandlerFunc(t.handle))
	if err != nil {
		return nil, err
	}
	t.listener = ln
	return t, nil
}

func (t *TelemetryIntake) Serve(errs chan<- error) { t.listener.serve(errs) }

// Addr returns the socket's actual listening address.
func (t *TelemetryIntake) Addr() string { return t.listener.addr() }

func (t *TelemetryIntake) Close() error {
	t.mu.Lock()
	for c := range t.conns {
		c.Close()
	}
	t.mu.Unlock()
	return t.listener.close()
}

func (t *TelemetryIntake) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	t.mu.Lock()
	t.conns[conn] = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.conns, conn)
		t.mu.Unlock()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		t.out <- IngressMessage{UAV: t.uav, Payload: payload}
	}
}

// CommandEgress is the broker-side socket a single UAV pulls its commands
// from. One instance per UAV.
type CommandEgress struct {
	listener *socketListener
	uav      string

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// BindCommandEgress binds the command egress socket for uav.
func BindCommandEgress(uav, addr string) (*CommandEgress, error) {
	c := &CommandEgress{uav: uav, conns: make(map[*websocket.Conn]bool)}
	ln, err := bind("uav-command-egress:"+uav, addr, http.HandlerFunc(c.handle))
	if err != nil {
		return nil, err
	}
	c.listener = ln
	return c, nil
}

func (c *CommandEgress) Serve(errs chan<- error) { c.listener.serve(errs) }

// Addr returns the socket's actual listening address.
func (c *CommandEgress) Addr() string { return c.listener.addr() }

func (c *CommandEgress) Close() error {
	c.mu.Lock()
	for conn := range c.conns {
		conn.Close()
	}
	c.mu.Unlock()
	return c.listener.close()
}

func (c *CommandEgress) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.conns[conn] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()
		conn.Close()
	}()

	// The UAV only pulls; it never pushes on this socket. Block on read
	// solely to detect disconnect and release the connection slot.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Send pushes body to every connection currently pulling from this UAV's
// command socket. A send failure is logged by the caller and otherwise
// ignored: spec.md §7 treats it as a transient transport error, not a
// reason to retry or crash.
func (c *CommandEgress) Send(body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.conns) == 0 {
		return fmt.Errorf("no connection pulling commands for uav %s", c.uav)
	}

	var firstErr error
	for conn := range c.conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
