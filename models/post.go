package models

import "go.mongodb.org/mongo-driver/bson/primitive"

type Post struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GroupID      primitive.ObjectID `bson:"groupId" json:"groupId"`
	AuthorID     primitive.ObjectID `bson:"authorId" json:"authorId"`
	Content      string             `bson:"content" json:"content"`
	Media        []string           `bson:"media,omitempty" json:"media,omitempty"`
	CreatedAt    int64              `bson:"createdAt" json:"createdAt"`
	EditedAt     int64              `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	Edited       bool               `bson:"edited" json:"edited"`
	Likes        []string           `bson:"likes" json:"likes"` // user id hex strings, set semantics
	CommentCount int                `bson:"commentCount" json:"commentCount"`
	Author       *Profile           `bson:"-" json:"author,omitempty"` // populated in responses only
}

// LikedBy reports membership of userID in the likes set.
func (p *Post) LikedBy(userID string) bool {
	for _, id := range p.Likes {
		if id == userID {
			return true
		}
	}
	return false
}
