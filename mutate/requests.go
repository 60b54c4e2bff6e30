package mutate

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gather/apperr"
	"gather/identity"
	"gather/models"
	"gather/store"
)

// CreateRequest files a join (kind "group") or connection (kind "connection")
// request. At most one pending request may exist per (from, target) pair;
// a duplicate attempt is rejected and writes nothing. Terminal requests do
// not block a fresh one.
func (c *Coordinator) CreateRequest(ctx context.Context, who identity.Identity, kind, targetID string) (models.JoinRequest, error) {
	if kind != "group" && kind != "connection" {
		return models.JoinRequest{}, apperr.Invalid("unknown request kind")
	}
	if targetID == "" || targetID == who.UserID {
		return models.JoinRequest{}, apperr.Invalid("invalid request target")
	}

	pending, err := c.store.Count(ctx, store.CollRequests, bson.M{
		"fromId":   who.UserID,
		"targetId": targetID,
		"status":   string(models.RequestPending),
	})
	if err != nil {
		return models.JoinRequest{}, err
	}
	if pending > 0 {
		return models.JoinRequest{}, apperr.Conflict("a pending request already exists")
	}

	req := models.JoinRequest{
		ID:        primitive.NewObjectID(),
		Kind:      kind,
		FromID:    who.UserID,
		TargetID:  targetID,
		Status:    models.RequestPending,
		CreatedAt: c.now(),
	}
	if _, err := c.store.Insert(ctx, store.CollRequests, req); err != nil {
		return models.JoinRequest{}, err
	}
	return req, nil
}

// DecideRequest moves a pending request to accepted or rejected. Only the
// target may decide: the group's owner or an admin for group requests, the
// addressed user for connection requests. accepted/rejected are terminal;
// deciding twice is a conflict, not a flip.
func (c *Coordinator) DecideRequest(ctx context.Context, who identity.Identity, requestID string, accept bool) (models.JoinRequest, error) {
	doc, err := c.store.Get(ctx, store.CollRequests, requestID)
	if err != nil {
		return models.JoinRequest{}, err
	}
	var req models.JoinRequest
	if err := doc.Decode(&req); err != nil {
		return models.JoinRequest{}, apperr.Internal(err)
	}
	if req.Status != models.RequestPending {
		return models.JoinRequest{}, apperr.Conflict("request already decided")
	}

	switch req.Kind {
	case "group":
		ok, err := c.moderatesGroup(ctx, who, req.TargetID)
		if err != nil {
			return models.JoinRequest{}, err
		}
		if !ok {
			return models.JoinRequest{}, apperr.PermissionDenied("only the group owner or an admin can decide")
		}
	case "connection":
		if req.TargetID != who.UserID {
			return models.JoinRequest{}, apperr.PermissionDenied("only the addressed user can decide")
		}
	}

	status := models.RequestRejected
	if accept {
		status = models.RequestAccepted
	}
	req.Status = status
	req.DecidedAt = c.now()

	// The write is the arbiter: it only lands while the request is still
	// pending, so two concurrent decides cannot both take effect.
	n, err := c.store.UpdateMany(ctx, store.CollRequests, bson.M{
		"_id":    store.DocID(requestID),
		"status": string(models.RequestPending),
	}, store.Ops{
		Set: bson.M{"status": string(status), "decidedAt": req.DecidedAt},
	})
	if err != nil {
		return models.JoinRequest{}, err
	}
	if n == 0 {
		return models.JoinRequest{}, apperr.Conflict("request already decided")
	}

	if accept && req.Kind == "group" {
		// Membership rides the same accept; the requester never lands in a
		// group without a matching accepted record.
		if err := c.store.UpdateAtomic(ctx, store.CollGroups, req.TargetID, store.Ops{
			AddToSet: bson.M{"members": req.FromID},
		}); err != nil && !apperr.IsNotFound(err) {
			return models.JoinRequest{}, err
		}
	}
	return req, nil
}
