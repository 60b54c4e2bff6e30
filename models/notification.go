package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// NotificationKind is a closed set. The dispatcher and renderers switch over
// it exhaustively instead of comparing free-form strings.
type NotificationKind string

const (
	NotifJoinRequest  NotificationKind = "join_request"
	NotifJoinAccepted NotificationKind = "join_accepted"
	NotifJoinRejected NotificationKind = "join_rejected"
	NotifRoleUpdated  NotificationKind = "role_updated"
	NotifInvite       NotificationKind = "invite"
)

// Valid reports whether k is one of the known kinds.
func (k NotificationKind) Valid() bool {
	switch k {
	case NotifJoinRequest, NotifJoinAccepted, NotifJoinRejected, NotifRoleUpdated, NotifInvite:
		return true
	}
	return false
}

// SubjectRef points at the group, conversation or request a notification
// concerns.
type SubjectRef struct {
	Collection string `bson:"collection" json:"collection"`
	ID         string `bson:"id" json:"id"`
}

type Notification struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RecipientID string             `bson:"recipientId" json:"recipientId"`
	SenderID    string             `bson:"senderId" json:"senderId"`
	Kind        NotificationKind   `bson:"kind" json:"kind"`
	Message     string             `bson:"message" json:"message"`
	Read        bool               `bson:"read" json:"read"`
	CreatedAt   int64              `bson:"createdAt" json:"createdAt"`
	Subject     SubjectRef         `bson:"subject" json:"subject"`
}
