package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Message lives for the lifetime of its conversation. "Delete for everyone"
// tombstones it (deleted + wiped text); "delete for me" only grows the
// deletedFor set. Neither is ever undone and the record is never physically
// removed, which keeps ordering and reply references intact.
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID string             `bson:"conversationId" json:"conversationId"`
	SenderID       string             `bson:"senderId" json:"senderId"`
	Text           string             `bson:"text" json:"text"`
	Type           string             `bson:"type" json:"type"` // text, image, voice
	CreatedAt      int64              `bson:"createdAt" json:"createdAt"`
	Edited         bool               `bson:"edited" json:"edited"`
	EditedAt       int64              `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	Deleted        bool               `bson:"deleted" json:"deleted"`
	DeletedFor     []string           `bson:"deletedFor" json:"deletedFor"`
	SeenBy         []string           `bson:"seenBy" json:"seenBy"`
	ReplyTo        string             `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
}

// SeenByUser reports membership of userID in the seenBy set.
func (m Message) SeenByUser(userID string) bool {
	for _, id := range m.SeenBy {
		if id == userID {
			return true
		}
	}
	return false
}

// HiddenFor reports whether the message is invisible to userID, either
// globally tombstoned or hidden by a delete-for-me.
func (m Message) HiddenFor(userID string) bool {
	if m.Deleted {
		return false // tombstone is rendered as "message deleted", not hidden
	}
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}
