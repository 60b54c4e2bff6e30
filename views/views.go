// Package views exposes the typed view-model streams the UI layer consumes.
// Each observer is a thin shell over a shared change-feed subscription: it
// names the view, decodes the folded documents into models, and forwards
// every update.
package views

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gather/apperr"
	"gather/models"
	"gather/mutate"
	"gather/store"
	gsync "gather/sync"
)

type Views struct {
	mgr    *gsync.Manager
	ledger *mutate.Ledger
}

func New(mgr *gsync.Manager, ledger *mutate.Ledger) *Views {
	return &Views{mgr: mgr, ledger: ledger}
}

// ObserveFeed streams a group's post feed, newest first. firstPage bounds the
// initial snapshot; items arriving later prepend live.
func (v *Views) ObserveFeed(groupID string, firstPage int64, onChange func([]models.Post), onErr func(error)) (gsync.CancelFunc, error) {
	gid, err := primitive.ObjectIDFromHex(groupID)
	if err != nil {
		return nil, apperr.Invalid("invalid group id")
	}
	q := store.Query{
		Collection: store.CollPosts,
		Filter:     bson.M{"groupId": gid},
		OrderField: "createdAt",
		Descending: true,
		Limit:      firstPage,
	}
	return v.mgr.Subscribe("feed:"+groupID, q, gsync.Handler{
		OnChange: func(view gsync.View) {
			onChange(decodeDocs[models.Post](v.ledger, view.Docs))
		},
		OnError: onErr,
	}), nil
}

// ObserveThread streams a post's comment thread, newest first.
func (v *Views) ObserveThread(postID string, firstPage int64, onChange func([]models.Comment), onErr func(error)) (gsync.CancelFunc, error) {
	pid, err := primitive.ObjectIDFromHex(postID)
	if err != nil {
		return nil, apperr.Invalid("invalid post id")
	}
	q := store.Query{
		Collection: store.CollComments,
		Filter:     bson.M{"postId": pid},
		OrderField: "createdAt",
		Descending: true,
		Limit:      firstPage,
	}
	return v.mgr.Subscribe("thread:"+postID, q, gsync.Handler{
		OnChange: func(view gsync.View) {
			onChange(decodeDocs[models.Comment](v.ledger, view.Docs))
		},
		OnError: onErr,
	}), nil
}

// ObserveConversation streams a conversation's messages, newest first.
func (v *Views) ObserveConversation(conversationID string, firstPage int64, onChange func([]models.Message), onErr func(error)) (gsync.CancelFunc, error) {
	q := store.Query{
		Collection: store.CollMessages,
		Filter:     bson.M{"conversationId": conversationID},
		OrderField: "createdAt",
		Descending: true,
		Limit:      firstPage,
	}
	return v.mgr.Subscribe("conversation:"+conversationID, q, gsync.Handler{
		OnChange: func(view gsync.View) {
			onChange(decodeDocs[models.Message](v.ledger, view.Docs))
		},
		OnError: onErr,
	}), nil
}

// ObserveConversationDoc streams the conversation document itself, which is
// where typing state and the lastMessage cache live.
func (v *Views) ObserveConversationDoc(conversationID string, onChange func(models.Conversation), onErr func(error)) gsync.CancelFunc {
	q := store.Query{
		Collection: store.CollConversations,
		Filter:     bson.M{"_id": conversationID},
		OrderField: "createdAt",
		Descending: true,
	}
	return v.mgr.Subscribe("conversation-doc:"+conversationID, q, gsync.Handler{
		OnChange: func(view gsync.View) {
			if len(view.Docs) == 0 {
				return
			}
			var conv models.Conversation
			if err := view.Docs[0].Decode(&conv); err != nil {
				return
			}
			v.ledger.Confirm(conv.ID)
			onChange(conv)
		},
		OnError: onErr,
	})
}

// ObserveNotifications streams a user's notification inbox, newest first.
func (v *Views) ObserveNotifications(userID string, firstPage int64, onChange func([]models.Notification), onErr func(error)) gsync.CancelFunc {
	q := store.Query{
		Collection: store.CollNotifications,
		Filter:     bson.M{"recipientId": userID},
		OrderField: "createdAt",
		Descending: true,
		Limit:      firstPage,
	}
	return v.mgr.Subscribe("notifications:"+userID, q, gsync.Handler{
		OnChange: func(view gsync.View) {
			onChange(decodeDocs[models.Notification](v.ledger, view.Docs))
		},
		OnError: onErr,
	})
}

type entity interface {
	models.Post | models.Comment | models.Message | models.Notification
}

// decodeDocs maps folded documents to typed models and resolves any pending
// optimistic mutation for each id: the change feed just delivered the
// authoritative value, which supersedes the local patch.
func decodeDocs[T entity](ledger *mutate.Ledger, docs []store.Doc) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var item T
		if err := doc.Decode(&item); err != nil {
			continue
		}
		if ledger != nil {
			ledger.Confirm(doc.ID)
		}
		out = append(out, item)
	}
	return out
}

