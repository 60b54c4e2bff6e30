// Package receipts tracks per-message seen state. seenBy only grows, through
// set-union writes that are idempotent and commutative, so concurrent
// delivery to several devices of the same user converges.
package receipts

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"gather/models"
	"gather/store"
)

type Tracker struct {
	store store.Store
}

func NewTracker(s store.Store) *Tracker {
	return &Tracker{store: s}
}

// MarkSeen adds userID to one message's seenBy set.
func (t *Tracker) MarkSeen(ctx context.Context, userID, messageID string) error {
	return t.store.UpdateAtomic(ctx, store.CollMessages, messageID, store.Ops{
		AddToSet: bson.M{"seenBy": userID},
	})
}

// MarkConversationSeen adds userID to every foreign message in the
// conversation that doesn't carry it yet. This is what an opened chat screen
// calls; every device of the user may call it concurrently.
func (t *Tracker) MarkConversationSeen(ctx context.Context, userID, conversationID string) (int64, error) {
	return t.store.UpdateMany(ctx, store.CollMessages,
		bson.M{
			"conversationId": conversationID,
			"senderId":       bson.M{"$ne": userID},
			"seenBy":         bson.M{"$ne": userID},
		},
		store.Ops{AddToSet: bson.M{"seenBy": userID}},
	)
}

// SeenByPartner reports whether the partner has seen the message; the sender
// renders the double check off this.
func SeenByPartner(msg *models.Message, partnerID string) bool {
	return msg.SeenByUser(partnerID)
}
