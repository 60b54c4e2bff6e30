package models

import "go.mongodb.org/mongo-driver/bson/primitive"

type Comment struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PostID    primitive.ObjectID `bson:"postId" json:"postId"`
	AuthorID  primitive.ObjectID `bson:"authorId" json:"authorId"`
	Content   string             `bson:"content" json:"content"`
	CreatedAt int64              `bson:"createdAt" json:"createdAt"`
	EditedAt  int64              `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	Edited    bool               `bson:"edited" json:"edited"`
	Likes     []string           `bson:"likes" json:"likes"`
	LikeCount int                `bson:"likeCount" json:"likeCount"`
	Author    *Profile           `bson:"-" json:"author,omitempty"`
}
