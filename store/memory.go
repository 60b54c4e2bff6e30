package store

import (
	"context"
	"log"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gather/apperr"
)

// Memory is an in-process Store with the same observable semantics as the
// Mongo implementation, including change-feeds. It backs the test suites and
// single-node deployments that have no replica set to run change streams on.
type Memory struct {
	mu    sync.RWMutex
	colls map[string]map[string]bson.M
	subs  map[*memorySub]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		colls: make(map[string]map[string]bson.M),
		subs:  make(map[*memorySub]struct{}),
	}
}

func (m *Memory) coll(name string) map[string]bson.M {
	c, ok := m.colls[name]
	if !ok {
		c = make(map[string]bson.M)
		m.colls[name] = c
	}
	return c
}

// normalize round-trips a value through bson so structs, maps and typed
// slices all land in the same bson.M/bson.A shape the Mongo driver produces.
func normalize(doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var data bson.M
	if err := bson.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func cloneDoc(data bson.M) bson.M {
	out, err := normalize(data)
	if err != nil {
		return bson.M{}
	}
	return out
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.coll(collection)[id]
	if !ok {
		return Doc{}, apperr.NotFound("document")
	}
	return toDoc(cloneDoc(data), "createdAt"), nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Doc, error) {
	m.mu.RLock()
	var docs []Doc
	for _, data := range m.coll(q.Collection) {
		if matchFilter(data, q.Filter) {
			docs = append(docs, toDoc(cloneDoc(data), q.OrderField))
		}
	}
	m.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].OrderBy != docs[j].OrderBy {
			if q.Descending {
				return docs[i].OrderBy > docs[j].OrderBy
			}
			return docs[i].OrderBy < docs[j].OrderBy
		}
		if q.Descending {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].ID < docs[j].ID
	})
	if q.Limit > 0 && int64(len(docs)) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (m *Memory) Insert(ctx context.Context, collection string, doc any) (string, error) {
	data, err := normalize(doc)
	if err != nil {
		return "", apperr.Internal(err)
	}
	if _, ok := data["_id"]; !ok {
		data["_id"] = primitive.NewObjectID()
	}
	id := idString(data["_id"])

	m.mu.Lock()
	m.coll(collection)[id] = data
	m.mu.Unlock()

	m.dispatch(collection, Event{Type: EventInsert, Doc: Doc{ID: id, Data: data}})
	return id, nil
}

func (m *Memory) UpdateAtomic(ctx context.Context, collection, id string, ops Ops) error {
	if ops.Empty() {
		return nil
	}
	m.mu.Lock()
	data, ok := m.coll(collection)[id]
	if !ok {
		m.mu.Unlock()
		return apperr.NotFound("document")
	}
	applyOps(data, ops)
	updated := cloneDoc(data)
	m.mu.Unlock()

	m.dispatch(collection, Event{Type: EventUpdate, Doc: Doc{ID: id, Data: updated}})
	return nil
}

func (m *Memory) CreateIfAbsent(ctx context.Context, collection, id string, doc any) (bool, error) {
	data, err := normalize(doc)
	if err != nil {
		return false, apperr.Internal(err)
	}
	data["_id"] = docID(id)

	m.mu.Lock()
	if _, exists := m.coll(collection)[id]; exists {
		m.mu.Unlock()
		return false, nil
	}
	m.coll(collection)[id] = data
	m.mu.Unlock()

	m.dispatch(collection, Event{Type: EventInsert, Doc: Doc{ID: id, Data: data}})
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	_, ok := m.coll(collection)[id]
	delete(m.coll(collection), id)
	m.mu.Unlock()

	if ok {
		m.dispatch(collection, Event{Type: EventDelete, Doc: Doc{ID: id}})
	}
	return nil
}

func (m *Memory) DeleteMany(ctx context.Context, collection string, filter bson.M) (int64, error) {
	m.mu.Lock()
	var removed []string
	for id, data := range m.coll(collection) {
		if matchFilter(data, filter) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(m.coll(collection), id)
	}
	m.mu.Unlock()

	for _, id := range removed {
		m.dispatch(collection, Event{Type: EventDelete, Doc: Doc{ID: id}})
	}
	return int64(len(removed)), nil
}

func (m *Memory) UpdateMany(ctx context.Context, collection string, filter bson.M, ops Ops) (int64, error) {
	m.mu.Lock()
	var updated []Doc
	for id, data := range m.coll(collection) {
		if matchFilter(data, filter) {
			applyOps(data, ops)
			updated = append(updated, Doc{ID: id, Data: cloneDoc(data)})
		}
	}
	m.mu.Unlock()

	for _, doc := range updated {
		m.dispatch(collection, Event{Type: EventUpdate, Doc: doc})
	}
	return int64(len(updated)), nil
}

func (m *Memory) Count(ctx context.Context, collection string, filter bson.M) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, data := range m.coll(collection) {
		if matchFilter(data, filter) {
			n++
		}
	}
	return n, nil
}

type memorySub struct {
	store      *Memory
	collection string
	filter     bson.M
	orderField string
	events     chan Event

	mu     sync.Mutex
	closed bool
	err    error
}

func (s *memorySub) Events() <-chan Event { return s.events }

func (s *memorySub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *memorySub) Close() {
	s.store.mu.Lock()
	delete(s.store.subs, s)
	s.store.mu.Unlock()

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
}

// deliver hands one event to the subscriber without blocking the writer. A
// subscriber that falls a full buffer behind gets its feed closed with a
// transient error instead of silently losing deltas, so the consumer
// resubscribes and reconciles.
func (s *memorySub) deliver(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.events <- ev:
		s.mu.Unlock()
	default:
		s.err = apperr.Transient(nil)
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		s.store.mu.Lock()
		delete(s.store.subs, s)
		s.store.mu.Unlock()
		log.Printf("memory store: subscriber on %s overflowed, closing its feed", s.collection)
	}
}

func (m *Memory) Watch(ctx context.Context, q Query) (Subscription, error) {
	sub := &memorySub{
		store:      m,
		collection: q.Collection,
		filter:     q.Filter,
		orderField: q.OrderField,
		events:     make(chan Event, 256),
	}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			sub.Close()
		}()
	}
	return sub, nil
}

func (m *Memory) dispatch(collection string, ev Event) {
	m.mu.RLock()
	targets := make([]*memorySub, 0, len(m.subs))
	for sub := range m.subs {
		if sub.collection != collection {
			continue
		}
		// Deletes are delivered unfiltered, matching change stream behavior.
		if ev.Type != EventDelete && !matchFilter(ev.Doc.Data, sub.filter) {
			continue
		}
		targets = append(targets, sub)
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		out := ev
		if out.Doc.Data != nil {
			out.Doc = toDoc(cloneDoc(ev.Doc.Data), sub.orderField)
		}
		sub.deliver(out)
	}
}

// applyOps mirrors the Mongo update operators used by the sync core.
func applyOps(data bson.M, ops Ops) {
	for field, v := range ops.Set {
		nv, err := normalize(bson.M{"v": v})
		if err == nil {
			data[field] = nv["v"]
		} else {
			data[field] = v
		}
	}
	for field, delta := range ops.Inc {
		data[field] = asInt64(data[field]) + delta
	}
	for field, v := range ops.AddToSet {
		arr := toArray(data[field])
		found := false
		for _, el := range arr {
			if eq(el, v) {
				found = true
				break
			}
		}
		if !found {
			arr = append(arr, v)
		}
		data[field] = arr
	}
	for field, v := range ops.Pull {
		arr := toArray(data[field])
		kept := arr[:0]
		for _, el := range arr {
			if !eq(el, v) {
				kept = append(kept, el)
			}
		}
		data[field] = kept
	}
}

func toArray(v any) bson.A {
	switch arr := v.(type) {
	case bson.A:
		return arr
	case []any:
		return bson.A(arr)
	case []string:
		out := make(bson.A, len(arr))
		for i, s := range arr {
			out[i] = s
		}
		return out
	case nil:
		return bson.A{}
	default:
		return bson.A{}
	}
}

// eq compares scalars the way Mongo equality does for the types the core
// stores: strings, bools, numbers and ObjectIDs.
func eq(a, b any) bool {
	if ao, ok := a.(primitive.ObjectID); ok {
		if bo, ok := b.(primitive.ObjectID); ok {
			return ao == bo
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case int, int32, int64, float64:
		switch b.(type) {
		case int, int32, int64, float64:
			return asInt64(a) == asInt64(b)
		}
		return false
	case nil:
		return b == nil
	default:
		return false
	}
}

func compare(a, b any) (int, bool) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	switch a.(type) {
	case int, int32, int64, float64:
	default:
		return 0, false
	}
	switch b.(type) {
	case int, int32, int64, float64:
	default:
		return 0, false
	}
	ai, bi := asInt64(a), asInt64(b)
	switch {
	case ai < bi:
		return -1, true
	case ai > bi:
		return 1, true
	default:
		return 0, true
	}
}

// matchFilter evaluates the filter subset the sync core uses: field equality
// (including array containment), $ne, $lt/$lte/$gt/$gte, $in, $or and $and.
func matchFilter(data bson.M, filter bson.M) bool {
	for key, cond := range filter {
		switch key {
		case "$or":
			clauses := toArray(cond)
			ok := false
			for _, clause := range clauses {
				if cm, isM := toFilter(clause); isM && matchFilter(data, cm) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		case "$and":
			for _, clause := range toArray(cond) {
				if cm, isM := toFilter(clause); !isM || !matchFilter(data, cm) {
					return false
				}
			}
		default:
			if !matchField(data, key, cond) {
				return false
			}
		}
	}
	return true
}

func toFilter(v any) (bson.M, bool) {
	switch f := v.(type) {
	case bson.M:
		return f, true
	case map[string]any:
		return bson.M(f), true
	default:
		return nil, false
	}
}

func matchField(data bson.M, key string, cond any) bool {
	value := data[key]
	if key == "_id" {
		// Compare ids in string form so ObjectID and string ids unify.
		value = idString(value)
		cond = normalizeIDCond(cond)
	}
	if ops, ok := toFilter(cond); ok && hasOperator(ops) {
		for op, arg := range ops {
			if !matchOp(value, op, arg) {
				return false
			}
		}
		return true
	}
	// Plain value: equality, or containment when the field is an array.
	return valueMatches(value, cond)
}

// valueMatches applies Mongo equality semantics: scalar equality, or
// containment when the stored value is an array.
func valueMatches(value, cond any) bool {
	if eq(value, cond) {
		return true
	}
	if arr, ok := value.(bson.A); ok {
		for _, el := range arr {
			if eq(el, cond) {
				return true
			}
		}
	}
	return false
}

func normalizeIDCond(cond any) any {
	switch c := cond.(type) {
	case primitive.ObjectID:
		return c.Hex()
	case bson.M:
		out := bson.M{}
		for op, arg := range c {
			out[op] = normalizeIDCond(arg)
		}
		return out
	default:
		return cond
	}
}

func hasOperator(m bson.M) bool {
	for k := range m {
		if len(k) > 0 && k[0] == '$' {
			return true
		}
	}
	return false
}

func matchOp(value any, op string, arg any) bool {
	switch op {
	case "$ne":
		return !valueMatches(value, arg)
	case "$in":
		for _, el := range toArray(arg) {
			if valueMatches(value, el) {
				return true
			}
		}
		return false
	case "$lt":
		c, ok := compare(value, arg)
		return ok && c < 0
	case "$lte":
		c, ok := compare(value, arg)
		return ok && c <= 0
	case "$gt":
		c, ok := compare(value, arg)
		return ok && c > 0
	case "$gte":
		c, ok := compare(value, arg)
		return ok && c >= 0
	default:
		return false
	}
}
