package store

import (
	"context"
	"errors"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gather/apperr"
)

// Mongo implements Store on a *mongo.Database. Change-feeds are Mongo change
// streams, so the deployment must be a replica set (Atlas or a local
// single-node replica set both work).
type Mongo struct {
	db *mongo.Database
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{db: db}
}

// docID maps a string id back to the stored _id value: hex strings become
// ObjectIDs, everything else (deterministic conversation ids) stays a string.
func docID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

// idString renders a stored _id as the string form used across the sync core.
func idString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return ""
	}
}

// asInt64 tolerates the numeric types bson decoding may produce.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toDoc(data bson.M, orderField string) Doc {
	return Doc{
		ID:      idString(data["_id"]),
		OrderBy: asInt64(data[orderField]),
		Data:    data,
	}
}

func wrapMongoErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.NotFound("document")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Transient(err)
}

func (m *Mongo) Get(ctx context.Context, collection, id string) (Doc, error) {
	var data bson.M
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": docID(id)}).Decode(&data)
	if err != nil {
		return Doc{}, wrapMongoErr(err)
	}
	return toDoc(data, "createdAt"), nil
}

func (m *Mongo) Query(ctx context.Context, q Query) ([]Doc, error) {
	dir := 1
	if q.Descending {
		dir = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: q.OrderField, Value: dir}, {Key: "_id", Value: dir}})
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	cursor, err := m.db.Collection(q.Collection).Find(ctx, q.Filter, opts)
	if err != nil {
		return nil, wrapMongoErr(err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, wrapMongoErr(err)
	}
	docs := make([]Doc, len(raw))
	for i, data := range raw {
		docs[i] = toDoc(data, q.OrderField)
	}
	return docs, nil
}

func (m *Mongo) Insert(ctx context.Context, collection string, doc any) (string, error) {
	res, err := m.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return "", wrapMongoErr(err)
	}
	return idString(res.InsertedID), nil
}

func (m *Mongo) UpdateAtomic(ctx context.Context, collection, id string, ops Ops) error {
	if ops.Empty() {
		return nil
	}
	update := bson.M{}
	if len(ops.Set) > 0 {
		update["$set"] = ops.Set
	}
	if len(ops.Inc) > 0 {
		inc := bson.M{}
		for field, delta := range ops.Inc {
			inc[field] = delta
		}
		update["$inc"] = inc
	}
	if len(ops.AddToSet) > 0 {
		update["$addToSet"] = ops.AddToSet
	}
	if len(ops.Pull) > 0 {
		update["$pull"] = ops.Pull
	}
	res, err := m.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": docID(id)}, update)
	if err != nil {
		return wrapMongoErr(err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("document")
	}
	return nil
}

func (m *Mongo) CreateIfAbsent(ctx context.Context, collection, id string, doc any) (bool, error) {
	// Relies on the unique _id index: the losing concurrent insert comes
	// back as a duplicate-key error, never a second document.
	_, err := m.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, wrapMongoErr(err)
	}
	return true, nil
}

func (m *Mongo) Delete(ctx context.Context, collection, id string) error {
	_, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": docID(id)})
	return wrapMongoErr(err)
}

func (m *Mongo) DeleteMany(ctx context.Context, collection string, filter bson.M) (int64, error) {
	res, err := m.db.Collection(collection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, wrapMongoErr(err)
	}
	return res.DeletedCount, nil
}

func (m *Mongo) UpdateMany(ctx context.Context, collection string, filter bson.M, ops Ops) (int64, error) {
	update := bson.M{}
	if len(ops.Set) > 0 {
		update["$set"] = ops.Set
	}
	if len(ops.Inc) > 0 {
		inc := bson.M{}
		for field, delta := range ops.Inc {
			inc[field] = delta
		}
		update["$inc"] = inc
	}
	if len(ops.AddToSet) > 0 {
		update["$addToSet"] = ops.AddToSet
	}
	if len(ops.Pull) > 0 {
		update["$pull"] = ops.Pull
	}
	res, err := m.db.Collection(collection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, wrapMongoErr(err)
	}
	return res.ModifiedCount, nil
}

func (m *Mongo) Count(ctx context.Context, collection string, filter bson.M) (int64, error) {
	n, err := m.db.Collection(collection).CountDocuments(ctx, filter)
	if err != nil {
		return 0, wrapMongoErr(err)
	}
	return n, nil
}

type mongoSub struct {
	events chan Event
	cancel context.CancelFunc
	err    error
}

func (s *mongoSub) Events() <-chan Event { return s.events }
func (s *mongoSub) Err() error           { return s.err }
func (s *mongoSub) Close()               { s.cancel() }

func (m *Mongo) Watch(ctx context.Context, q Query) (Subscription, error) {
	pipeline := mongo.Pipeline{}
	if len(q.Filter) > 0 {
		prefixed := bson.M{}
		for field, cond := range q.Filter {
			prefixed["fullDocument."+field] = cond
		}
		// Deletes carry no fullDocument, so they pass the match unfiltered
		// and consumers drop unknown ids.
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{
			"$or": bson.A{prefixed, bson.M{"operationType": "delete"}},
		}}})
	}

	streamCtx, cancel := context.WithCancel(ctx)
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := m.db.Collection(q.Collection).Watch(streamCtx, pipeline, opts)
	if err != nil {
		cancel()
		return nil, wrapMongoErr(err)
	}

	sub := &mongoSub{
		events: make(chan Event, 64),
		cancel: cancel,
	}

	go func() {
		defer close(sub.events)
		defer cs.Close(context.Background())

		for cs.Next(streamCtx) {
			var change struct {
				OperationType string `bson:"operationType"`
				FullDocument  bson.M `bson:"fullDocument"`
				DocumentKey   bson.M `bson:"documentKey"`
			}
			if err := cs.Decode(&change); err != nil {
				log.Printf("change stream decode error: %v", err)
				continue
			}

			var ev Event
			switch change.OperationType {
			case "insert":
				ev = Event{Type: EventInsert, Doc: toDoc(change.FullDocument, q.OrderField)}
			case "update", "replace":
				if change.FullDocument == nil {
					// Document deleted between the update and the lookup.
					continue
				}
				ev = Event{Type: EventUpdate, Doc: toDoc(change.FullDocument, q.OrderField)}
			case "delete":
				ev = Event{Type: EventDelete, Doc: Doc{ID: idString(change.DocumentKey["_id"])}}
			default:
				continue
			}

			select {
			case sub.events <- ev:
			case <-streamCtx.Done():
				return
			}
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			sub.err = apperr.Transient(err)
		}
	}()

	return sub, nil
}
