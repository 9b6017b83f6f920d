// Package ws streams operation progress to connected clients, fanned out per
// stack ID.
package ws

import (
	"encoding/json"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by stack ID. The clients map is owned by
// the run goroutine; all access goes through the channels.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

// message couples payload with stack identifier.
type message struct {
	stackID string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	stackID string
	client  Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.stackID]; !ok {
				h.clients[sub.stackID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.stackID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.stackID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.stackID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.stackID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.stackID)
				}
			}
		}
	}
}

// Register adds a client to a stack stream.
func (h *Hub) Register(stackID string, client Subscriber) {
	h.register <- subscription{stackID: stackID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(stackID string, client Subscriber) {
	h.unreg <- subscription{stackID: stackID, client: client}
}

// Broadcast sends payload to all stack clients.
func (h *Hub) Broadcast(stackID string, payload []byte) {
	h.broadcast <- message{stackID: stackID, payload: payload}
}

// Publish serializes a progress event and broadcasts it on the event's stack
// stream. Implements the executor's sink.
func (h *Hub) Publish(event domain.ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.Broadcast(event.StackID, payload)
}
