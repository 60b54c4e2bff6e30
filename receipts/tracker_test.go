package receipts

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gather/models"
	"gather/store"
)

func seedMessage(t *testing.T, mem *store.Memory, convID, sender string) string {
	t.Helper()
	msg := models.Message{
		ID:             primitive.NewObjectID(),
		ConversationID: convID,
		SenderID:       sender,
		Text:           "hello",
		SeenBy:         []string{sender},
		DeletedFor:     []string{},
	}
	id, err := mem.Insert(context.Background(), store.CollMessages, msg)
	require.NoError(t, err)
	return id
}

func loadMessage(t *testing.T, mem *store.Memory, id string) models.Message {
	t.Helper()
	doc, err := mem.Get(context.Background(), store.CollMessages, id)
	require.NoError(t, err)
	var m models.Message
	require.NoError(t, doc.Decode(&m))
	return m
}

func TestMarkSeenGrowsSetOnce(t *testing.T) {
	mem := store.NewMemory()
	tr := NewTracker(mem)
	ctx := context.Background()

	id := seedMessage(t, mem, "alice_bob", "alice")
	require.NoError(t, tr.MarkSeen(ctx, "bob", id))
	require.NoError(t, tr.MarkSeen(ctx, "bob", id))

	m := loadMessage(t, mem, id)
	assert.ElementsMatch(t, []string{"alice", "bob"}, m.SeenBy)
	assert.True(t, m.SeenByUser("bob"))
	assert.True(t, SeenByPartner(&m, "bob"))
}

func TestMarkConversationSeenSkipsOwnAndAlreadySeen(t *testing.T) {
	mem := store.NewMemory()
	tr := NewTracker(mem)
	ctx := context.Background()

	fromAlice1 := seedMessage(t, mem, "alice_bob", "alice")
	fromAlice2 := seedMessage(t, mem, "alice_bob", "alice")
	fromBob := seedMessage(t, mem, "alice_bob", "bob")
	otherConv := seedMessage(t, mem, "alice_carol", "alice")

	n, err := tr.MarkConversationSeen(ctx, "bob", "alice_bob")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	assert.True(t, loadMessage(t, mem, fromAlice1).SeenByUser("bob"))
	assert.True(t, loadMessage(t, mem, fromAlice2).SeenByUser("bob"))
	// Own messages and other conversations are untouched.
	assert.Equal(t, []string{"bob"}, loadMessage(t, mem, fromBob).SeenBy)
	assert.False(t, loadMessage(t, mem, otherConv).SeenByUser("bob"))

	// A second pass finds nothing left to mark.
	n, err = tr.MarkConversationSeen(ctx, "bob", "alice_bob")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestMultiDeviceConvergence(t *testing.T) {
	mem := store.NewMemory()
	tr := NewTracker(mem)
	ctx := context.Background()

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = seedMessage(t, mem, "alice_bob", "alice")
	}

	// Several of bob's devices open the chat at once.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.MarkConversationSeen(ctx, "bob", "alice_bob")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, id := range ids {
		m := loadMessage(t, mem, id)
		assert.ElementsMatch(t, []string{"alice", "bob"}, m.SeenBy, "message %s", id)
	}
}
