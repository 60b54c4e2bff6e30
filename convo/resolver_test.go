package convo

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"gather/store"
)

func TestConversationIDSymmetric(t *testing.T) {
	assert.Equal(t, ConversationID("alice", "bob"), ConversationID("bob", "alice"))
	assert.Equal(t, "alice_bob", ConversationID("bob", "alice"))
}

func TestEnsureCreatesOnce(t *testing.T) {
	mem := store.NewMemory()
	r := NewResolver(mem)
	ctx := context.Background()

	conv, created, err := r.Ensure(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice_bob", conv.ID)
	assert.Equal(t, []string{"alice", "bob"}, conv.Participants)

	// The reversed pair resolves to the same record.
	conv2, created, err := r.Ensure(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, conv2.ID)

	n, err := mem.Count(ctx, store.CollConversations, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestEnsureConcurrentBothSides(t *testing.T) {
	mem := store.NewMemory()
	r := NewResolver(mem)
	ctx := context.Background()

	var wg sync.WaitGroup
	createdCount := make(chan bool, 16)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, created, err := r.Ensure(ctx, "alice", "bob")
			assert.NoError(t, err)
			createdCount <- created
		}()
		go func() {
			defer wg.Done()
			_, created, err := r.Ensure(ctx, "bob", "alice")
			assert.NoError(t, err)
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	creations := 0
	for c := range createdCount {
		if c {
			creations++
		}
	}
	assert.Equal(t, 1, creations)

	n, err := mem.Count(ctx, store.CollConversations, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestEnsureRejectsDegeneratePairs(t *testing.T) {
	r := NewResolver(store.NewMemory())
	ctx := context.Background()

	_, _, err := r.Ensure(ctx, "alice", "alice")
	assert.Error(t, err)
	_, _, err = r.Ensure(ctx, "", "bob")
	assert.Error(t, err)
}

func TestGetEnforcesParticipation(t *testing.T) {
	mem := store.NewMemory()
	r := NewResolver(mem)
	ctx := context.Background()

	conv, _, err := r.Ensure(ctx, "alice", "bob")
	require.NoError(t, err)

	got, err := r.Get(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, "bob", got.PartnerOf("alice"))

	_, err = r.Get(ctx, conv.ID, "mallory")
	assert.Error(t, err)
}

func TestListOrdersByActivity(t *testing.T) {
	mem := store.NewMemory()
	r := NewResolver(mem)
	ctx := context.Background()

	c1, _, err := r.Ensure(ctx, "alice", "bob")
	require.NoError(t, err)
	c2, _, err := r.Ensure(ctx, "alice", "carol")
	require.NoError(t, err)

	require.NoError(t, mem.UpdateAtomic(ctx, store.CollConversations, c1.ID, store.Ops{
		Set: bson.M{"lastMessageAt": int64(100)},
	}))
	require.NoError(t, mem.UpdateAtomic(ctx, store.CollConversations, c2.ID, store.Ops{
		Set: bson.M{"lastMessageAt": int64(200)},
	}))

	convs, err := r.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, c2.ID, convs[0].ID)
	assert.Equal(t, c1.ID, convs[1].ID)

	convs, err = r.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 1)
}
