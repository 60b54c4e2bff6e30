// Package notify converts domain events (join requests, decisions, role
// changes, invites) into persisted notification records and exposes the
// recipient's live unread count.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gather/apperr"
	"gather/models"
	"gather/store"
	gsync "gather/sync"
)

type Dispatcher struct {
	store store.Store
	mgr   *gsync.Manager
	now   func() int64
}

func NewDispatcher(s store.Store, mgr *gsync.Manager) *Dispatcher {
	return &Dispatcher{store: s, mgr: mgr, now: func() int64 { return time.Now().Unix() }}
}

// Notify appends one notification record. The subject ref must point at an
// already-persisted domain record: callers write the domain record first and
// notify second, so a client reacting to the notification can always load
// its subject. No dedup here; one logical event notifies once because its
// caller calls once.
func (d *Dispatcher) Notify(ctx context.Context, recipientID, senderID string, kind models.NotificationKind, subject models.SubjectRef, message string) (models.Notification, error) {
	if !kind.Valid() {
		return models.Notification{}, apperr.Invalid("unknown notification kind")
	}
	if recipientID == "" {
		return models.Notification{}, apperr.Invalid("notification needs a recipient")
	}

	n := models.Notification{
		ID:          primitive.NewObjectID(),
		RecipientID: recipientID,
		SenderID:    senderID,
		Kind:        kind,
		Message:     message,
		CreatedAt:   d.now(),
		Subject:     subject,
	}
	if _, err := d.store.Insert(ctx, store.CollNotifications, n); err != nil {
		return models.Notification{}, err
	}
	return n, nil
}

// Render produces the display line for a notification kind. The switch is
// exhaustive over the closed kind set.
func Render(kind models.NotificationKind, senderName string) string {
	switch kind {
	case models.NotifJoinRequest:
		return fmt.Sprintf("%s requested to join your group", senderName)
	case models.NotifJoinAccepted:
		return fmt.Sprintf("%s accepted your request", senderName)
	case models.NotifJoinRejected:
		return fmt.Sprintf("%s declined your request", senderName)
	case models.NotifRoleUpdated:
		return fmt.Sprintf("%s updated your role", senderName)
	case models.NotifInvite:
		return fmt.Sprintf("%s invited you", senderName)
	default:
		return ""
	}
}

// ObserveUnreadCount delivers the recipient's unread count, live: the count
// changes the moment a notification lands, is read, or is deleted.
func (d *Dispatcher) ObserveUnreadCount(userID string, onCount func(int64), onErr func(error)) gsync.CancelFunc {
	// The feed filter must only use immutable fields: a filter on read==false
	// would hide the update that flips a notification to read, leaving the
	// count stale. Watch the whole inbox and count unread in the fold.
	q := store.Query{
		Collection: store.CollNotifications,
		Filter:     bson.M{"recipientId": userID},
		OrderField: "createdAt",
		Descending: true,
	}
	return d.mgr.Subscribe("notif-unread:"+userID, q, gsync.Handler{
		OnChange: func(v gsync.View) {
			var unread int64
			for _, doc := range v.Docs {
				if read, _ := doc.Data["read"].(bool); !read {
					unread++
				}
			}
			onCount(unread)
		},
		OnError: onErr,
	})
}

// MarkRead flips one notification to read. Idempotent.
func (d *Dispatcher) MarkRead(ctx context.Context, userID, notificationID string) error {
	doc, err := d.store.Get(ctx, store.CollNotifications, notificationID)
	if err != nil {
		return err
	}
	var n models.Notification
	if err := doc.Decode(&n); err != nil {
		return apperr.Internal(err)
	}
	if n.RecipientID != userID {
		return apperr.PermissionDenied("not your notification")
	}
	return d.store.UpdateAtomic(ctx, store.CollNotifications, notificationID, store.Ops{
		Set: bson.M{"read": true},
	})
}

// MarkAllRead flips every unread notification for the user. Idempotent.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return d.store.UpdateMany(ctx, store.CollNotifications,
		bson.M{"recipientId": userID, "read": false},
		store.Ops{Set: bson.M{"read": true}},
	)
}

// Delete removes a notification for good. Recipient-only.
func (d *Dispatcher) Delete(ctx context.Context, userID, notificationID string) error {
	doc, err := d.store.Get(ctx, store.CollNotifications, notificationID)
	if err != nil {
		return err
	}
	var n models.Notification
	if err := doc.Decode(&n); err != nil {
		return apperr.Internal(err)
	}
	if n.RecipientID != userID {
		return apperr.PermissionDenied("not your notification")
	}
	return d.store.Delete(ctx, store.CollNotifications, notificationID)
}

// List returns the recipient's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, userID string, limit int64) ([]models.Notification, error) {
	docs, err := d.store.Query(ctx, store.Query{
		Collection: store.CollNotifications,
		Filter:     bson.M{"recipientId": userID},
		OrderField: "createdAt",
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Notification, 0, len(docs))
	for _, doc := range docs {
		var n models.Notification
		if err := doc.Decode(&n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
