package sync

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"

	"gather/apperr"
	"gather/store"
)

// Page is one slice of a descending-ordered collection. Cursor is the opaque
// token for the next page; HasMore is inferred from a full page, a known
// approximation (a page exactly full at the end of the data looks identical
// to one with more behind it).
type Page struct {
	Docs    []store.Doc
	Cursor  string
	HasMore bool
}

// cursor is the decoded pagination token: the ordering key and id of the last
// item of the previous page, used as an exclusive bound.
type cursor struct {
	OrderBy int64  `json:"o"`
	ID      string `json:"i"`
}

func encodeCursor(doc store.Doc) string {
	raw, err := json.Marshal(cursor{OrderBy: doc.OrderBy, ID: doc.ID})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, apperr.Invalid("malformed page cursor")
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}, apperr.Invalid("malformed page cursor")
	}
	return c, nil
}

// Paginator extends a query with cursor-based "load more" reads. The first
// page of a view is normally a live subscription (Manager.Subscribe with a
// limited query); pages after it are one-shot reads below the live window.
type Paginator struct {
	store store.Store
}

func NewPaginator(s store.Store) *Paginator {
	return &Paginator{store: s}
}

// FirstPage reads the newest pageSize items for q.
func (p *Paginator) FirstPage(ctx context.Context, q store.Query, pageSize int64) (Page, error) {
	q.Limit = pageSize
	docs, err := p.store.Query(ctx, q)
	if err != nil {
		return Page{}, err
	}
	return buildPage(docs, pageSize), nil
}

// NextPage reads the pageSize items strictly beyond the cursor. The bound is
// exclusive on the (ordering key, id) pair, not an offset, so an item can
// never repeat across pages even when new items land between loads.
func (p *Paginator) NextPage(ctx context.Context, q store.Query, token string, pageSize int64) (Page, error) {
	c, err := decodeCursor(token)
	if err != nil {
		return Page{}, err
	}

	cmp, tieCmp := "$lt", "$lt"
	if !q.Descending {
		cmp, tieCmp = "$gt", "$gt"
	}
	bound := bson.M{"$or": bson.A{
		bson.M{q.OrderField: bson.M{cmp: c.OrderBy}},
		bson.M{q.OrderField: c.OrderBy, "_id": bson.M{tieCmp: store.DocID(c.ID)}},
	}}

	bounded := q
	if len(q.Filter) > 0 {
		bounded.Filter = bson.M{"$and": bson.A{q.Filter, bound}}
	} else {
		bounded.Filter = bound
	}
	bounded.Limit = pageSize

	docs, err := p.store.Query(ctx, bounded)
	if err != nil {
		return Page{}, err
	}
	return buildPage(docs, pageSize), nil
}

func buildPage(docs []store.Doc, pageSize int64) Page {
	page := Page{Docs: docs, HasMore: int64(len(docs)) == pageSize}
	if len(docs) > 0 {
		page.Cursor = encodeCursor(docs[len(docs)-1])
	}
	return page
}
