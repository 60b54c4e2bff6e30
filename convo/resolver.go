// Package convo resolves which conversation record a pair of users share.
// The id is a pure function of the sorted pair, so both sides compute the
// same id with no round trip, and the conditional create guarantees a single
// record even when both users hit "message" at the same moment.
package convo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"gather/apperr"
	"gather/models"
	"gather/store"
)

// ConversationID returns the canonical conversation id for two users:
// the lexicographically sorted pair joined with an underscore.
// ConversationID(a, b) == ConversationID(b, a) for all pairs.
func ConversationID(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + "_" + userB
}

type Resolver struct {
	store store.Store
	now   func() int64
}

func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s, now: func() int64 { return time.Now().Unix() }}
}

// Ensure returns the conversation between the two users, creating it if this
// is their first contact. Reports whether this call created the record.
// Concurrent calls from both participants race on the store's create-if-
// absent, so exactly one of them creates; the loser reads the winner's
// record.
func (r *Resolver) Ensure(ctx context.Context, userA, userB string) (models.Conversation, bool, error) {
	if userA == "" || userB == "" || userA == userB {
		return models.Conversation{}, false, apperr.Invalid("conversation needs two distinct participants")
	}

	id := ConversationID(userA, userB)
	first, second := userA, userB
	if first > second {
		first, second = second, first
	}

	conv := models.Conversation{
		ID:           id,
		Participants: []string{first, second},
		CreatedAt:    r.now(),
	}

	created, err := r.store.CreateIfAbsent(ctx, store.CollConversations, id, conv)
	if err != nil {
		return models.Conversation{}, false, err
	}
	if created {
		return conv, true, nil
	}

	doc, err := r.store.Get(ctx, store.CollConversations, id)
	if err != nil {
		return models.Conversation{}, false, err
	}
	var existing models.Conversation
	if err := doc.Decode(&existing); err != nil {
		return models.Conversation{}, false, apperr.Internal(err)
	}
	return existing, false, nil
}

// Get loads a conversation and verifies the caller participates in it.
func (r *Resolver) Get(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	doc, err := r.store.Get(ctx, store.CollConversations, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	var conv models.Conversation
	if err := doc.Decode(&conv); err != nil {
		return models.Conversation{}, apperr.Internal(err)
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, apperr.PermissionDenied("not a participant of this conversation")
	}
	return conv, nil
}

// List returns the caller's conversations, most recently active first.
func (r *Resolver) List(ctx context.Context, userID string) ([]models.Conversation, error) {
	docs, err := r.store.Query(ctx, store.Query{
		Collection: store.CollConversations,
		Filter:     bson.M{"participants": userID},
		OrderField: "lastMessageAt",
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	convs := make([]models.Conversation, 0, len(docs))
	for _, doc := range docs {
		var c models.Conversation
		if err := doc.Decode(&c); err != nil {
			continue
		}
		convs = append(convs, c)
	}
	return convs, nil
}
