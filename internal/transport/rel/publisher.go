package rel

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Publisher is the single UI-facing reliable topic socket. Every UI
// subscriber connection receives every published message; topic filtering
// happens on the subscriber side, per spec.md §4.2 ("the broker never
// tracks subscriber identity"). The client registry and broadcast pattern
// mirror the teacher's dashboard wsClients map.
type Publisher struct {
	listener *socketListener

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// BindPublisher binds the UI topic publisher socket.
func BindPublisher(addr string) (*Publisher, error) {
	p := &Publisher{clients: make(map[*websocket.Conn]bool)}
	ln, err := bind("ui-publisher", addr, http.HandlerFunc(p.handle))
	if err != nil {
		return nil, err
	}
	p.listener = ln
	return p, nil
}

func (p *Publisher) Serve(errs chan<- error) { p.listener.serve(errs) }

// Addr returns the socket's actual listening address.
func (p *Publisher) Addr() string { return p.listener.addr() }

func (p *Publisher) Close() error {
	p.mu.Lock()
	for c := range p.clients {
		c.Close()
	}
	p.mu.Unlock()
	return p.listener.close()
}

func (p *Publisher) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.clients[conn] = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.clients, conn)
		p.mu.Unlock()
		conn.Close()
	}()

	// Subscribers never send; read until disconnect to free the slot.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish sends the two-frame envelope (topic, payload) to every connected
// subscriber. Sends are best-effort and non-blocking beyond writeTimeout:
// the frame is dropped for a failing client (which stays registered) and
// the first such error is returned, but other clients still receive the
// message (spec.md §4.2: "If a send fails ... the frame
// is dropped and logged; telemetry is not retried").
func (p *Publisher) Publish(topic string, payload []byte) (delivered int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.clients) == 0 {
		return 0, nil
	}

	var firstErr error
	for conn := range p.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if werr := conn.WriteMessage(websocket.TextMessage, []byte(topic)); werr != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish topic frame: %w", werr)
			}
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if werr := conn.WriteMessage(websocket.BinaryMessage, payload); werr != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish payload frame: %w", werr)
			}
			continue
		}
		delivered++
	}
	return delivered, firstErr
}
