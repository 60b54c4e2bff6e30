// Package sync multiplexes the store's change-feed onto logical views (a
// feed, a comment thread, a conversation, a notification inbox) and keeps a
// stable ordered list per view. Consumers sharing a view key share one
// underlying change-feed; the last cancellation tears it down.
package sync

import (
	"context"
	"log"
	"sync"
	"time"

	"gather/apperr"
	"gather/store"
)

// CancelFunc releases one consumer's interest in a view. The owning caller
// must invoke it on teardown.
type CancelFunc func()

// View is the current folded state of a subscription: the documents matching
// the query, in query order.
type View struct {
	Key  string
	Docs []store.Doc
}

// Handler receives view updates. OnChange is invoked with a fresh copy of the
// view after every folded event; it is the subscription's only observable
// effect. Store errors never reach OnChange: transient ones are retried
// internally and only permanent failures arrive at OnError.
type Handler struct {
	OnChange func(View)
	OnError  func(error)
}

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

// Manager owns every live view. Safe for concurrent use.
type Manager struct {
	store store.Store

	mu    sync.Mutex
	views map[string]*managedView
}

func NewManager(s store.Store) *Manager {
	return &Manager{
		store: s,
		views: make(map[string]*managedView),
	}
}

type managedView struct {
	key   string
	query store.Query
	mgr   *Manager

	cancel context.CancelFunc

	mu        sync.Mutex
	refs      int
	nextID    int64
	consumers map[int64]Handler
	docs      []store.Doc
	ready     bool // first snapshot folded
}

// Subscribe attaches a consumer to the view identified by key. The first
// consumer starts the underlying change-feed; later consumers share it and
// immediately receive the current view. The query must be identical for all
// consumers of one key (the key names the query).
func (m *Manager) Subscribe(key string, q store.Query, h Handler) CancelFunc {
	m.mu.Lock()
	mv, ok := m.views[key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		mv = &managedView{
			key:       key,
			query:     q,
			mgr:       m,
			cancel:    cancel,
			consumers: make(map[int64]Handler),
		}
		m.views[key] = mv
		go mv.run(ctx)
	}
	m.mu.Unlock()

	mv.mu.Lock()
	id := mv.nextID
	mv.nextID++
	mv.consumers[id] = h
	mv.refs++
	snapshot := View{Key: mv.key, Docs: append([]store.Doc(nil), mv.docs...)}
	ready := mv.ready
	mv.mu.Unlock()

	// A consumer joining an already-primed view gets the current state
	// right away instead of waiting for the next delta.
	if ready && h.OnChange != nil {
		deliver(h, snapshot)
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(mv, id) })
	}
}

func (m *Manager) release(mv *managedView, consumerID int64) {
	mv.mu.Lock()
	delete(mv.consumers, consumerID)
	mv.refs--
	last := mv.refs == 0
	mv.mu.Unlock()

	if !last {
		return
	}
	m.mu.Lock()
	// Re-check under the manager lock: a new consumer may have arrived.
	mv.mu.Lock()
	if mv.refs == 0 {
		delete(m.views, mv.key)
		mv.cancel()
	}
	mv.mu.Unlock()
	m.mu.Unlock()
}

// ActiveViews reports how many views currently hold a store change-feed.
func (m *Manager) ActiveViews() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

// run drives one view: open the change-feed, fold the snapshot, then fold
// deltas until cancelled. Any feed failure is treated as transient; the loop
// resubscribes with backoff and reconciles by diffing a fresh snapshot
// against the folded state, so consumers never observe duplicates or ghosts.
func (mv *managedView) run(ctx context.Context) {
	delay := retryBaseDelay
	for {
		if err := mv.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if !apperr.IsTransient(err) {
				mv.fail(err)
				return
			}
			log.Printf("view %s: change feed error, resubscribing in %v: %v", mv.key, delay, err)
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if delay *= 2; delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}

func (mv *managedView) runOnce(ctx context.Context) error {
	// Watch before the snapshot read so no commit falls between them. The
	// fold is idempotent per id, so a document seen by both paths is folded
	// once.
	sub, err := mv.mgr.store.Watch(ctx, mv.query)
	if err != nil {
		return err
	}
	defer sub.Close()

	docs, err := mv.mgr.store.Query(ctx, mv.query)
	if err != nil {
		return err
	}
	mv.reconcile(docs)

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return apperr.Transient(nil)
			}
			mv.fold(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reconcile replaces the folded state with a fresh snapshot: ids missing from
// the snapshot are dropped, everything else is upserted in order.
func (mv *managedView) reconcile(snapshot []store.Doc) {
	mv.mu.Lock()
	mv.docs = append(mv.docs[:0], snapshot...)
	mv.ready = true
	mv.mu.Unlock()
	mv.notify()
}

// fold applies one delta: inserts land at the position the ordering key
// implies, updates replace in place (repositioning if the key moved),
// deletes remove. Unknown delete ids are ignored; they belong to documents
// the view never matched.
func (mv *managedView) fold(ev store.Event) {
	mv.mu.Lock()
	switch ev.Type {
	case store.EventInsert, store.EventUpdate:
		mv.upsertLocked(ev.Doc)
	case store.EventDelete:
		if !mv.removeLocked(ev.Doc.ID) {
			mv.mu.Unlock()
			return
		}
	}
	mv.mu.Unlock()
	mv.notify()
}

func (mv *managedView) upsertLocked(doc store.Doc) {
	mv.removeLocked(doc.ID)
	idx := mv.insertionIndexLocked(doc)
	mv.docs = append(mv.docs, store.Doc{})
	copy(mv.docs[idx+1:], mv.docs[idx:])
	mv.docs[idx] = doc
}

func (mv *managedView) removeLocked(id string) bool {
	for i, d := range mv.docs {
		if d.ID == id {
			mv.docs = append(mv.docs[:i], mv.docs[i+1:]...)
			return true
		}
	}
	return false
}

// insertionIndexLocked finds where doc belongs under (OrderBy, ID) ordering.
func (mv *managedView) insertionIndexLocked(doc store.Doc) int {
	before := func(a, b store.Doc) bool {
		if a.OrderBy != b.OrderBy {
			if mv.query.Descending {
				return a.OrderBy > b.OrderBy
			}
			return a.OrderBy < b.OrderBy
		}
		if mv.query.Descending {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	}
	lo, hi := 0, len(mv.docs)
	for lo < hi {
		mid := (lo + hi) / 2
		if before(mv.docs[mid], doc) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (mv *managedView) notify() {
	mv.mu.Lock()
	view := View{Key: mv.key, Docs: append([]store.Doc(nil), mv.docs...)}
	handlers := make([]Handler, 0, len(mv.consumers))
	for _, h := range mv.consumers {
		handlers = append(handlers, h)
	}
	mv.mu.Unlock()

	for _, h := range handlers {
		if h.OnChange != nil {
			deliver(h, view)
		}
	}
}

func (mv *managedView) fail(err error) {
	mv.mu.Lock()
	handlers := make([]Handler, 0, len(mv.consumers))
	for _, h := range mv.consumers {
		handlers = append(handlers, h)
	}
	mv.mu.Unlock()

	for _, h := range handlers {
		if h.OnError != nil {
			h.OnError(err)
		}
	}
}

// deliver shields the fold loop from consumer panics; a broken consumer must
// not take down the shared view.
func deliver(h Handler, view View) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("view %s: consumer panic: %v", view.Key, r)
		}
	}()
	h.OnChange(view)
}
