package chat

import (
	"context"

	"go.uber.org/zap"
)

// Hub tracks the websocket sessions of this instance. Cross-instance fan-out
// goes through the change feed, so the hub only owns session lifetimes.
type Hub struct {
	clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	count      chan chan int
	done       chan struct{}
	log        *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run owns the session set until ctx is cancelled, then drops every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case <-ctx.Done():
			h.log.Infow("hub stopping", "clients", len(h.clients))
			for client := range h.clients {
				// ReadPump fails on the closed conn and releases the client's view.
				client.Conn.Close()
				delete(h.clients, client)
			}
			return
		}
	}
}

// register reports false once the hub has stopped.
func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
		// Run has already forgotten c; nobody else closes its queue.
		close(c.Send)
	}
}

// Clients returns the number of live sessions, or 0 after shutdown.
func (h *Hub) Clients() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}
