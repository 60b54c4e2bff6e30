// Package push fans domain events out to browser push subscriptions. Push is
// best-effort: failures are logged, never surfaced to the triggering user
// action, and expired subscriptions are pruned on the 410 they return.
package push

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gather/store"
)

// Subscription is one browser push endpoint for a user.
type Subscription struct {
	ID     primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	UserID string               `bson:"userId" json:"userId"`
	Sub    webpush.Subscription `bson:"sub" json:"sub"`
}

type Sender struct {
	store       store.Store
	publicKey   string
	privateKey  string
	subscriber  string
	sendTimeout time.Duration
}

func NewSender(s store.Store, publicKey, privateKey string) *Sender {
	return &Sender{
		store:       s,
		publicKey:   publicKey,
		privateKey:  privateKey,
		subscriber:  "mailto:admin@gather.app",
		sendTimeout: 10 * time.Second,
	}
}

// PublicKey is handed to clients so they can subscribe.
func (s *Sender) PublicKey() string { return s.publicKey }

// Save upserts the user's push subscription: one endpoint per user, the
// newest registration wins.
func (s *Sender) Save(ctx context.Context, userID string, sub webpush.Subscription) error {
	if _, err := s.store.DeleteMany(ctx, store.CollPushSubs, bson.M{"userId": userID}); err != nil {
		return err
	}
	_, err := s.store.Insert(ctx, store.CollPushSubs, Subscription{
		ID:     primitive.NewObjectID(),
		UserID: userID,
		Sub:    sub,
	})
	return err
}

// Send delivers a push to the user asynchronously. Safe to call from request
// handlers; the caller never waits.
func (s *Sender) Send(userID, title, body string) {
	if s.privateKey == "" {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic in push send: %v", r)
			}
		}()
		s.send(userID, title, body)
	}()
}

func (s *Sender) send(userID, title, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	docs, err := s.store.Query(ctx, store.Query{
		Collection: store.CollPushSubs,
		Filter:     bson.M{"userId": userID},
		OrderField: "_id",
	})
	if err != nil {
		log.Printf("push: subscription lookup failed for %s: %v", userID, err)
		return
	}
	if len(docs) == 0 {
		return
	}

	if len(body) > 100 {
		body = body[:100] + "..."
	}
	payload, err := json.Marshal(map[string]any{
		"title": title,
		"body":  body,
		"data":  map[string]any{"timestamp": time.Now().Unix()},
	})
	if err != nil {
		return
	}

	for _, doc := range docs {
		var sub Subscription
		if err := doc.Decode(&sub); err != nil {
			continue
		}
		resp, err := webpush.SendNotification(payload, &sub.Sub, &webpush.Options{
			Subscriber:      s.subscriber,
			VAPIDPublicKey:  s.publicKey,
			VAPIDPrivateKey: s.privateKey,
			TTL:             30,
		})
		if err != nil {
			log.Printf("push: send failed for %s: %v", userID, err)
			if resp != nil && resp.StatusCode == 410 {
				s.store.Delete(ctx, store.CollPushSubs, doc.ID)
			}
			continue
		}
		resp.Body.Close()
	}
}

// NewMessage pushes a "sent you a message" notification.
func (s *Sender) NewMessage(recipientID, senderName, text string) {
	if senderName == "" {
		senderName = "Someone"
	}
	s.Send(recipientID, senderName+" sent a message", text)
}
