package models

import "go.mongodb.org/mongo-driver/bson/primitive"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// JoinRequest covers both group-join and user-connection requests; TargetID
// is a group id or a user id depending on Kind. accepted/rejected are
// terminal. At most one pending request may exist per (from, target) pair,
// enforced by the mutation coordinator.
type JoinRequest struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Kind      string             `bson:"kind" json:"kind"` // group, connection
	FromID    string             `bson:"fromId" json:"fromId"`
	TargetID  string             `bson:"targetId" json:"targetId"`
	Status    RequestStatus      `bson:"status" json:"status"`
	CreatedAt int64              `bson:"createdAt" json:"createdAt"`
	DecidedAt int64              `bson:"decidedAt,omitempty" json:"decidedAt,omitempty"`
}
