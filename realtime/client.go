package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gather/identity"
	"gather/models"
	gsync "gather/sync"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096

	// firstPageSize bounds the initial snapshot of every live view; older
	// items are paged in over the REST surface.
	firstPageSize = 30
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	who  identity.Identity
	send chan []byte

	mu   sync.Mutex
	subs map[string]gsync.CancelFunc // view key -> cancel
}

func newClient(h *Hub, conn *websocket.Conn, who identity.Identity) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		who:  who,
		send: make(chan []byte, 256),
		subs: make(map[string]gsync.CancelFunc),
	}
}

func (c *Client) sendJSON(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("ws marshal error: %v", err)
		return
	}
	c.enqueue(raw)
}

func (c *Client) enqueue(raw []byte) {
	select {
	case c.send <- raw:
	default:
		// Slow consumer; drop the frame rather than stall the view fold.
		log.Printf("ws client %s send buffer full, dropping frame", c.id)
	}
}

func (c *Client) pushUpdate(view string, id string, payload any) {
	raw, err := json.Marshal(outbound{Type: "view_update", Payload: map[string]any{
		"view":  view,
		"id":    id,
		"items": payload,
	}})
	if err != nil {
		log.Printf("ws marshal error: %v", err)
		return
	}
	c.enqueue(raw)
}

func (c *Client) pushError(view string, id string, err error) {
	raw, merr := json.Marshal(outbound{Type: "view_error", Payload: map[string]any{
		"view":  view,
		"id":    id,
		"error": err.Error(),
	}})
	if merr != nil {
		return
	}
	c.enqueue(raw)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws read error: %v", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("ws bad frame from %s: %v", c.id, err)
			continue
		}
		c.handle(env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type subscribeReq struct {
	View string `json:"view"` // feed, thread, conversation, conversation_doc, notifications
	ID   string `json:"id"`   // group/post/conversation id; ignored for notifications
}

type typingReq struct {
	ConversationID string `json:"conversationId"`
	Stop           bool   `json:"stop,omitempty"`
}

type seenReq struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
}

func (c *Client) handle(env envelope) {
	switch env.Type {
	case "subscribe":
		var req subscribeReq
		if json.Unmarshal(env.Payload, &req) == nil {
			c.subscribe(req)
		}
	case "unsubscribe":
		var req subscribeReq
		if json.Unmarshal(env.Payload, &req) == nil {
			c.unsubscribe(subKey(req))
		}
	case "typing":
		var req typingReq
		if json.Unmarshal(env.Payload, &req) == nil {
			c.typing(req)
		}
	case "seen":
		var req seenReq
		if json.Unmarshal(env.Payload, &req) == nil {
			c.seen(req)
		}
	case "ping":
		c.sendJSON(outbound{Type: "pong", Payload: map[string]any{"time": time.Now().Unix()}})
	default:
		log.Printf("ws unknown frame type %q from %s", env.Type, c.id)
	}
}

func subKey(req subscribeReq) string {
	return req.View + ":" + req.ID
}

func (c *Client) subscribe(req subscribeReq) {
	key := subKey(req)

	c.mu.Lock()
	if _, exists := c.subs[key]; exists {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	var cancel gsync.CancelFunc
	var err error

	onErr := func(err error) { c.pushError(req.View, req.ID, err) }

	// Conversation views are private: the caller must be a participant.
	switch req.View {
	case "conversation", "conversation_doc":
		ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
		_, aerr := c.hub.resolver.Get(ctx, req.ID, c.who.UserID)
		cancelCtx()
		if aerr != nil {
			c.pushError(req.View, req.ID, aerr)
			return
		}
	}

	switch req.View {
	case "feed":
		cancel, err = c.hub.views.ObserveFeed(req.ID, firstPageSize, func(posts []models.Post) {
			c.pushUpdate(req.View, req.ID, posts)
		}, onErr)
	case "thread":
		cancel, err = c.hub.views.ObserveThread(req.ID, firstPageSize, func(comments []models.Comment) {
			c.pushUpdate(req.View, req.ID, comments)
		}, onErr)
	case "conversation":
		cancel, err = c.hub.views.ObserveConversation(req.ID, firstPageSize, func(msgs []models.Message) {
			c.pushUpdate(req.View, req.ID, msgs)
		}, onErr)
	case "conversation_doc":
		cancel = c.hub.views.ObserveConversationDoc(req.ID, func(conv models.Conversation) {
			c.pushUpdate(req.View, req.ID, conv)
		}, onErr)
	case "notifications":
		cancel = c.hub.views.ObserveNotifications(c.who.UserID, firstPageSize, func(ns []models.Notification) {
			c.pushUpdate(req.View, c.who.UserID, ns)
		}, onErr)
	default:
		log.Printf("ws unknown view %q from %s", req.View, c.id)
		return
	}
	if err != nil {
		c.pushError(req.View, req.ID, err)
		return
	}

	c.mu.Lock()
	if _, exists := c.subs[key]; exists {
		// Raced with a duplicate subscribe; keep the first.
		c.mu.Unlock()
		cancel()
		return
	}
	c.subs[key] = cancel
	c.mu.Unlock()

	c.sendJSON(outbound{Type: "subscribed", Payload: map[string]any{"view": req.View, "id": req.ID}})
}

func (c *Client) unsubscribe(key string) {
	c.mu.Lock()
	cancel, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Client) typing(req typingReq) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	var err error
	if req.Stop {
		err = c.hub.typing.ClearTyping(ctx, req.ConversationID)
	} else {
		err = c.hub.typing.SetTyping(ctx, req.ConversationID, c.who.UserID)
	}
	if err != nil {
		log.Printf("ws typing write failed for %s: %v", req.ConversationID, err)
	}
}

func (c *Client) seen(req seenReq) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	var err error
	if req.MessageID != "" {
		err = c.hub.receipts.MarkSeen(ctx, c.who.UserID, req.MessageID)
	} else {
		_, err = c.hub.receipts.MarkConversationSeen(ctx, c.who.UserID, req.ConversationID)
	}
	if err != nil {
		log.Printf("ws seen write failed: %v", err)
	}
}

// teardown cancels every view subscription the client holds. Called by the
// hub when the client unregisters.
func (c *Client) teardown() {
	c.mu.Lock()
	cancels := make([]gsync.CancelFunc, 0, len(c.subs))
	for _, cancel := range c.subs {
		cancels = append(cancels, cancel)
	}
	c.subs = make(map[string]gsync.CancelFunc)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
