package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gather/convo"
	"gather/identity"
	"gather/models"
	"gather/mutate"
	"gather/presence"
	"gather/receipts"
	"gather/store"
	gsync "gather/sync"
	"gather/views"
)

func newTestHub(t *testing.T) (*Hub, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	v := views.New(gsync.NewManager(mem), mutate.NewLedger())
	typing := presence.NewTracker(mem, presence.DefaultQuietPeriod)
	t.Cleanup(typing.Close)
	hub := NewHub(v, typing, receipts.NewTracker(mem), convo.NewResolver(mem))
	go hub.Run()
	return hub, mem
}

func dial(t *testing.T, hub *Hub, who identity.Identity) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub.Handler(who))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil drains frames until pred accepts one or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, pred func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if pred(f) {
			return f
		}
	}
}

func TestConnectHandshake(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dial(t, hub, identity.Identity{UserID: "alice", Name: "Alice"})

	f := readUntil(t, conn, func(f frame) bool { return f.Type == "connected" })
	assert.Contains(t, string(f.Payload), "alice")

	require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestSubscribeStreamsConversation(t *testing.T) {
	hub, mem := newTestHub(t)
	ctx := context.Background()

	conv := models.Conversation{ID: "alice_bob", Participants: []string{"alice", "bob"}}
	_, err := mem.CreateIfAbsent(ctx, store.CollConversations, conv.ID, conv)
	require.NoError(t, err)

	conn := dial(t, hub, identity.Identity{UserID: "bob", Name: "Bob"})
	readUntil(t, conn, func(f frame) bool { return f.Type == "connected" })

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "subscribe",
		"payload": map[string]any{"view": "conversation", "id": conv.ID},
	}))
	readUntil(t, conn, func(f frame) bool { return f.Type == "subscribed" })

	coord := mutate.NewCoordinator(mem)
	_, err = coord.SendMessage(ctx, identity.Identity{UserID: "alice"}, conv.ID, "hi bob", "", "")
	require.NoError(t, err)

	f := readUntil(t, conn, func(f frame) bool {
		return f.Type == "view_update" && strings.Contains(string(f.Payload), "hi bob")
	})
	assert.Contains(t, string(f.Payload), `"view":"conversation"`)
}

func TestSubscribeConversationRequiresParticipant(t *testing.T) {
	hub, mem := newTestHub(t)
	ctx := context.Background()

	conv := models.Conversation{ID: "alice_bob", Participants: []string{"alice", "bob"}}
	_, err := mem.CreateIfAbsent(ctx, store.CollConversations, conv.ID, conv)
	require.NoError(t, err)

	coord := mutate.NewCoordinator(mem)
	_, err = coord.SendMessage(ctx, identity.Identity{UserID: "alice"}, conv.ID, "between us", "", "")
	require.NoError(t, err)

	conn := dial(t, hub, identity.Identity{UserID: "mallory", Name: "Mallory"})
	readUntil(t, conn, func(f frame) bool { return f.Type == "connected" })

	for _, view := range []string{"conversation", "conversation_doc"} {
		require.NoError(t, conn.WriteJSON(map[string]any{
			"type":    "subscribe",
			"payload": map[string]any{"view": view, "id": conv.ID},
		}))
		f := readUntil(t, conn, func(f frame) bool {
			require.NotEqual(t, "view_update", f.Type)
			require.NotContains(t, string(f.Payload), "between us")
			return f.Type == "view_error"
		})
		assert.Contains(t, string(f.Payload), "participant")
	}
}

func TestTypingAndSeenFrames(t *testing.T) {
	hub, mem := newTestHub(t)
	ctx := context.Background()

	conv := models.Conversation{ID: "alice_bob", Participants: []string{"alice", "bob"}}
	_, err := mem.CreateIfAbsent(ctx, store.CollConversations, conv.ID, conv)
	require.NoError(t, err)

	msg := models.Message{ConversationID: conv.ID, SenderID: "alice", Text: "hi", SeenBy: []string{"alice"}}
	msgID, err := mem.Insert(ctx, store.CollMessages, msg)
	require.NoError(t, err)

	conn := dial(t, hub, identity.Identity{UserID: "bob", Name: "Bob"})
	readUntil(t, conn, func(f frame) bool { return f.Type == "connected" })

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "typing",
		"payload": map[string]any{"conversationId": conv.ID},
	}))
	require.Eventually(t, func() bool {
		doc, err := mem.Get(ctx, store.CollConversations, conv.ID)
		return err == nil && doc.Data["typing"] == "bob"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "seen",
		"payload": map[string]any{"conversationId": conv.ID},
	}))
	require.Eventually(t, func() bool {
		doc, err := mem.Get(ctx, store.CollMessages, msgID)
		if err != nil {
			return false
		}
		var m models.Message
		return doc.Decode(&m) == nil && m.SeenByUser("bob")
	}, 2*time.Second, 5*time.Millisecond)

	// Unknown frame types are ignored, the connection survives.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "nonsense"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	readUntil(t, conn, func(f frame) bool { return f.Type == "pong" })
}
