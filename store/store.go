// Package store wraps the document store behind a small interface: point
// reads/writes, filtered ordered queries, atomic field operations, and a
// change-feed (Watch) that streams every subsequent insert/update/delete
// matching a query. The Mongo implementation is the production one; the
// in-memory implementation backs tests.
package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Collection names.
const (
	CollUsers         = "users"
	CollGroups        = "groups"
	CollPosts         = "posts"
	CollComments      = "comments"
	CollConversations = "conversations"
	CollMessages      = "messages"
	CollNotifications = "notifications"
	CollRequests      = "requests"
	CollPushSubs      = "push_subscriptions"
)

// DocID converts a string id to the value stored under _id: 24-hex strings
// become ObjectIDs, deterministic string ids (conversations) stay strings.
// Callers building raw filters against _id use this.
func DocID(id string) any { return docID(id) }

// Query identifies a collection, a filter and an ordering. OrderField is
// always tie-broken by _id so the ordering is strictly monotonic, which the
// pagination cursor depends on.
type Query struct {
	Collection string
	Filter     bson.M
	OrderField string
	Descending bool
	Limit      int64
}

// Doc is one document as seen by the sync layer: its string id, the value of
// the ordering field, and the raw body.
type Doc struct {
	ID      string
	OrderBy int64
	Data    bson.M
}

// Decode unmarshals the document body into a typed model.
func (d Doc) Decode(out any) error {
	raw, err := bson.Marshal(d.Data)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

// EventType tags a change-feed delta.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is one change-feed delta. Delete events carry only the id.
type Event struct {
	Type EventType
	Doc  Doc
}

// Subscription is a live change-feed. Events is closed when the feed ends;
// Err then reports why (nil on Close).
type Subscription interface {
	Events() <-chan Event
	Err() error
	Close()
}

// Ops is one atomic write: every populated operator is applied in a single
// store round trip. Set overwrites fields, Inc adds deltas to numeric
// fields, AddToSet/Pull mutate array fields with set semantics.
type Ops struct {
	Set      bson.M
	Inc      map[string]int64
	AddToSet bson.M
	Pull     bson.M
}

// Empty reports whether the op would be a no-op write.
func (o Ops) Empty() bool {
	return len(o.Set) == 0 && len(o.Inc) == 0 && len(o.AddToSet) == 0 && len(o.Pull) == 0
}

// Store is the document store client consumed by the sync core. All methods
// are safe for concurrent use. Lookup failures are apperr.NotFound; transient
// backend failures are apperr.Transient.
type Store interface {
	// Get reads one document by id.
	Get(ctx context.Context, collection, id string) (Doc, error)

	// Query returns the current result set for q, ordered.
	Query(ctx context.Context, q Query) ([]Doc, error)

	// Insert writes a new document and returns its id.
	Insert(ctx context.Context, collection string, doc any) (string, error)

	// UpdateAtomic applies ops to the document with the given id as one
	// atomic operation.
	UpdateAtomic(ctx context.Context, collection, id string, ops Ops) error

	// CreateIfAbsent writes doc under id only if no document with that id
	// exists. Reports whether it created the document.
	CreateIfAbsent(ctx context.Context, collection, id string, doc any) (bool, error)

	// Delete removes a document. Missing documents are not an error: the
	// delete is idempotent.
	Delete(ctx context.Context, collection, id string) error

	// DeleteMany removes every document matching the filter and returns the
	// number removed.
	DeleteMany(ctx context.Context, collection string, filter bson.M) (int64, error)

	// UpdateMany applies ops to every document matching the filter and
	// returns the number modified.
	UpdateMany(ctx context.Context, collection string, filter bson.M, ops Ops) (int64, error)

	// Count returns the number of documents matching the filter.
	Count(ctx context.Context, collection string, filter bson.M) (int64, error)

	// Watch opens a change-feed of deltas committed after the call. It does
	// not replay the current result set; callers snapshot with Query and
	// fold the two together (the fold is idempotent per id, so overlap is
	// harmless). Delete events are delivered unfiltered because the store
	// no longer knows the document body; consumers drop ids they never saw.
	Watch(ctx context.Context, q Query) (Subscription, error)
}
