package rel

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// CommandIntake is the single UI-facing reliable command socket. Any
// connected UI may push a command; the broker never distinguishes which
// UI sent it (spec.md §4.2, "UI command intake: fan-in queue").
type CommandIntake struct {
	listener *socketListener
	out      chan<- []byte

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// BindCommandIntake binds the UI command intake socket. Every message
// received is forwarded, unparsed, to out.
func BindCommandIntake(addr string, out chan<- []byte) (*CommandIntake, error) {
	c := &CommandIntake{out: out, conns: make(map[*websocket.Conn]bool)}
	ln, err := bind("ui-command-intake", addr, http.HandlerFunc(c.handle))
	if err != nil {
		return nil, err
	}
	c.listener = ln
	return c, nil
}

func (c *CommandIntake) Serve(errs chan<- error) { c.listener.serve(errs) }

// Addr returns the socket's actual listening address.
func (c *CommandIntake) Addr() string { return c.listener.addr() }

func (c *CommandIntake) Close() error {
	c.mu.Lock()
	for conn := range c.conns {
		conn.Close()
	}
	c.mu.Unlock()
	return c.listener.close()
}

func (c *CommandIntake) handle(w http.ResponseWriter, r *http.Request) {
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

	for {
		_, body, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.out <- body
	}
}
