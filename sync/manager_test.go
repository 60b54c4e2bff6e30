package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"gather/store"
)

type viewRecorder struct {
	mu    sync.Mutex
	views []View
}

func (r *viewRecorder) handler() Handler {
	return Handler{OnChange: func(v View) {
		r.mu.Lock()
		r.views = append(r.views, v)
		r.mu.Unlock()
	}}
}

func (r *viewRecorder) last() (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return View{}, false
	}
	return r.views[len(r.views)-1], true
}

func (r *viewRecorder) lastIDs() []string {
	v, ok := r.last()
	if !ok {
		return nil
	}
	ids := make([]string, len(v.Docs))
	for i, d := range v.Docs {
		ids[i] = d.ID
	}
	return ids
}

func feedQuery() store.Query {
	return store.Query{
		Collection: "posts",
		Filter:     bson.M{"groupId": "g1"},
		OrderField: "createdAt",
		Descending: true,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeFoldsSnapshotAndDeltas(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	id1, err := mem.Insert(ctx, "posts", bson.M{"groupId": "g1", "createdAt": int64(10)})
	require.NoError(t, err)

	mgr := NewManager(mem)
	rec := &viewRecorder{}
	cancel := mgr.Subscribe("feed:g1", feedQuery(), rec.handler())
	defer cancel()

	// Snapshot.
	waitFor(t, func() bool {
		v, ok := rec.last()
		return ok && len(v.Docs) == 1 && v.Docs[0].ID == id1
	})

	// Live insert lands at the front (newer).
	id2, err := mem.Insert(ctx, "posts", bson.M{"groupId": "g1", "createdAt": int64(20)})
	require.NoError(t, err)
	waitFor(t, func() bool {
		ids := rec.lastIDs()
		return len(ids) == 2 && ids[0] == id2 && ids[1] == id1
	})

	// Non-matching insert never shows.
	_, err = mem.Insert(ctx, "posts", bson.M{"groupId": "g2", "createdAt": int64(30)})
	require.NoError(t, err)

	// Delete folds out.
	require.NoError(t, mem.Delete(ctx, "posts", id1))
	waitFor(t, func() bool {
		ids := rec.lastIDs()
		return len(ids) == 1 && ids[0] == id2
	})
}

func TestUpdateRepositionsByOrderingKey(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	idOld, err := mem.Insert(ctx, "posts", bson.M{"groupId": "g1", "createdAt": int64(10)})
	require.NoError(t, err)
	idNew, err := mem.Insert(ctx, "posts", bson.M{"groupId": "g1", "createdAt": int64(20)})
	require.NoError(t, err)

	mgr := NewManager(mem)
	rec := &viewRecorder{}
	cancel := mgr.Subscribe("feed:g1", feedQuery(), rec.handler())
	defer cancel()

	waitFor(t, func() bool { return len(rec.lastIDs()) == 2 })

	// Bump the older doc's key past the newer one.
	require.NoError(t, mem.UpdateAtomic(ctx, "posts", idOld, store.Ops{
		Set: bson.M{"createdAt": int64(30)},
	}))
	waitFor(t, func() bool {
		ids := rec.lastIDs()
		return len(ids) == 2 && ids[0] == idOld && ids[1] == idNew
	})
}

func TestSharedViewRefcounting(t *testing.T) {
	mem := store.NewMemory()
	mgr := NewManager(mem)

	rec1 := &viewRecorder{}
	cancel1 := mgr.Subscribe("feed:g1", feedQuery(), rec1.handler())
	waitFor(t, func() bool {
		_, ok := rec1.last()
		return ok
	})
	assert.Equal(t, 1, mgr.ActiveViews())

	// Late joiner shares the feed and gets the current state immediately.
	rec2 := &viewRecorder{}
	cancel2 := mgr.Subscribe("feed:g1", feedQuery(), rec2.handler())
	_, ok := rec2.last()
	assert.True(t, ok)
	assert.Equal(t, 1, mgr.ActiveViews())

	cancel1()
	assert.Equal(t, 1, mgr.ActiveViews())
	cancel2()
	cancel2() // idempotent
	assert.Equal(t, 0, mgr.ActiveViews())
}

// severableStore forwards to the wrapped store but lets the test cut the
// live change-feed, the way a dropped backend connection would.
type severableStore struct {
	store.Store
	mu   sync.Mutex
	subs []*severableSub
}

func (s *severableStore) Watch(ctx context.Context, q store.Query) (store.Subscription, error) {
	inner, err := s.Store.Watch(ctx, q)
	if err != nil {
		return nil, err
	}
	sub := &severableSub{
		inner:  inner,
		events: make(chan store.Event, 16),
		done:   make(chan struct{}),
	}
	go sub.pump()
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub, nil
}

// sever drops every open feed mid-stream; later deltas are lost until the
// consumer resubscribes.
func (s *severableStore) sever() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.sever()
	}
}

type severableSub struct {
	inner  store.Subscription
	events chan store.Event
	done   chan struct{}
	once   sync.Once
}

func (s *severableSub) pump() {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.inner.Events():
			if !ok {
				return
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func (s *severableSub) Events() <-chan store.Event { return s.events }
func (s *severableSub) Err() error                 { return nil }
func (s *severableSub) sever()                     { s.once.Do(func() { close(s.done) }) }
func (s *severableSub) Close() {
	s.inner.Close()
	s.sever()
}

func TestResubscribeReconcilesAfterFeedDrop(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	idA, err := mem.Insert(ctx, "posts", bson.M{"groupId": "g1", "createdAt": int64(10)})
	require.NoError(t, err)
	idB, err := mem.Insert(ctx, "posts", bson.M{"groupId": "g1", "createdAt": int64(20)})
	require.NoError(t, err)

	sev := &severableStore{Store: mem}
	mgr := NewManager(sev)
	rec := &viewRecorder{}
	cancel := mgr.Subscribe("feed:g1", feedQuery(), rec.handler())
	defer cancel()

	waitFor(t, func() bool { return len(rec.lastIDs()) == 2 })

	// Cut the feed, then mutate while the view is blind: one insert, one
	// delete, one content edit. None of these deltas are delivered.
	sev.sever()
	idC, err := mem.Insert(ctx, "posts", bson.M{"groupId": "g1", "createdAt": int64(30)})
	require.NoError(t, err)
	require.NoError(t, mem.Delete(ctx, "posts", idB))
	require.NoError(t, mem.UpdateAtomic(ctx, "posts", idA, store.Ops{
		Set: bson.M{"content": "edited while down"},
	}))

	// The resubscribe diff converges to the true state: the new doc exactly
	// once, no ghost of the deleted one, the edit picked up.
	require.Eventually(t, func() bool {
		v, ok := rec.last()
		if !ok || len(v.Docs) != 2 {
			return false
		}
		return v.Docs[0].ID == idC && v.Docs[1].ID == idA &&
			v.Docs[1].Data["content"] == "edited while down"
	}, 5*time.Second, 10*time.Millisecond)

	// And the recovered feed is live again.
	idD, err := mem.Insert(ctx, "posts", bson.M{"groupId": "g1", "createdAt": int64(40)})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ids := rec.lastIDs()
		return len(ids) == 3 && ids[0] == idD
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConsumerPanicDoesNotKillView(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	mgr := NewManager(mem)

	panicking := Handler{OnChange: func(View) { panic("boom") }}
	cancelPanic := mgr.Subscribe("feed:g1", feedQuery(), panicking)
	defer cancelPanic()

	rec := &viewRecorder{}
	cancel := mgr.Subscribe("feed:g1", feedQuery(), rec.handler())
	defer cancel()

	_, err := mem.Insert(ctx, "posts", bson.M{"groupId": "g1", "createdAt": int64(10)})
	require.NoError(t, err)

	waitFor(t, func() bool { return len(rec.lastIDs()) == 1 })
}

func TestIdenticalEventFoldIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	id, err := mem.Insert(ctx, "posts", bson.M{"groupId": "g1", "createdAt": int64(10)})
	require.NoError(t, err)

	mgr := NewManager(mem)
	rec := &viewRecorder{}
	cancel := mgr.Subscribe("feed:g1", feedQuery(), rec.handler())
	defer cancel()

	waitFor(t, func() bool { return len(rec.lastIDs()) == 1 })

	// An update delivering a doc already present replaces it in place rather
	// than duplicating it.
	require.NoError(t, mem.UpdateAtomic(ctx, "posts", id, store.Ops{
		Set: bson.M{"content": "edited"},
	}))
	waitFor(t, func() bool {
		v, ok := rec.last()
		return ok && len(v.Docs) == 1 && v.Docs[0].Data["content"] == "edited"
	})
}
