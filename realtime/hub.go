// Package realtime carries view-model updates to connected clients over
// WebSocket. Each client subscribes to the views it is rendering; the hub
// bridges those onto the shared change-feed subscriptions and relays typing
// and read-receipt signals back into the sync core.
package realtime

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gather/convo"
	"gather/identity"
	"gather/presence"
	"gather/receipts"
	"gather/views"
)

type Hub struct {
	views    *views.Views
	typing   *presence.Tracker
	receipts *receipts.Tracker
	resolver *convo.Resolver

	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool
}

func NewHub(v *views.Views, typing *presence.Tracker, rc *receipts.Tracker, resolver *convo.Resolver) *Hub {
	return &Hub{
		views:      v,
		typing:     typing,
		receipts:   rc,
		resolver:   resolver,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run owns the client set. Start it once, in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("ws client %s connected (user %s), %d total", client.id, client.who.UserID, n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.teardown()
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("ws client %s disconnected, %d total", client.id, n)
		}
	}
}

// ConnectedClients reports the current connection count.
func (h *Hub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades an authenticated request. The caller (gin middleware) has
// already verified the token and resolved the identity.
func (h *Hub) Handler(who identity.Identity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade failed: %v", err)
			return
		}
		client := newClient(h, conn, who)
		h.register <- client

		client.sendJSON(outbound{Type: "connected", Payload: map[string]any{
			"userId": who.UserID,
			"time":   time.Now().Unix(),
		}})

		go client.writePump()
		go client.readPump()
	}
}
