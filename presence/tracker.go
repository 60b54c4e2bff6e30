// Package presence maintains the ephemeral "is typing" signal on a
// conversation. The field is advisory last-write-wins UI state, not a
// correctness-bearing value, so plain overwrites are acceptable.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"gather/store"
)

// DefaultQuietPeriod is how long after the last keystroke the typing flag
// survives before it self-clears.
const DefaultQuietPeriod = 2 * time.Second

type Tracker struct {
	store store.Store
	quiet time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer // conversationID -> pending clear
}

func NewTracker(s store.Store, quiet time.Duration) *Tracker {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Tracker{store: s, quiet: quiet, timers: make(map[string]*time.Timer)}
}

// SetTyping marks userID as typing in the conversation and (re)arms the
// quiet-period timer. Each further keystroke pushes the expiry out; silence
// for the quiet period clears the flag automatically.
func (t *Tracker) SetTyping(ctx context.Context, conversationID, userID string) error {
	err := t.store.UpdateAtomic(ctx, store.CollConversations, conversationID, store.Ops{
		Set: bson.M{"typing": userID},
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	if timer, ok := t.timers[conversationID]; ok {
		timer.Stop()
	}
	t.timers[conversationID] = time.AfterFunc(t.quiet, func() {
		t.expire(conversationID)
	})
	t.mu.Unlock()
	return nil
}

// ClearTyping clears the flag immediately (message sent, input blurred).
func (t *Tracker) ClearTyping(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	if timer, ok := t.timers[conversationID]; ok {
		timer.Stop()
		delete(t.timers, conversationID)
	}
	t.mu.Unlock()

	return t.store.UpdateAtomic(ctx, store.CollConversations, conversationID, store.Ops{
		Set: bson.M{"typing": ""},
	})
}

func (t *Tracker) expire(conversationID string) {
	t.mu.Lock()
	delete(t.timers, conversationID)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.UpdateAtomic(ctx, store.CollConversations, conversationID, store.Ops{
		Set: bson.M{"typing": ""},
	}); err != nil {
		log.Printf("typing expiry write failed for %s: %v", conversationID, err)
	}
}

// Close stops every pending expiry timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

// IsTypingOther reports whether the conversation's typing field names someone
// other than self.
func IsTypingOther(typing, self string) bool {
	return typing != "" && typing != self
}
