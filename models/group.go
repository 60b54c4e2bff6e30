package models

import "go.mongodb.org/mongo-driver/bson/primitive"

type Group struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	OwnerID   string             `bson:"ownerId" json:"ownerId"`
	Admins    []string           `bson:"admins" json:"admins"`
	Members   []string           `bson:"members" json:"members"`
	CreatedAt int64              `bson:"createdAt" json:"createdAt"`
}

// RoleOf returns "owner", "admin", "member" or "" for userID.
func (g *Group) RoleOf(userID string) string {
	if g.OwnerID == userID {
		return "owner"
	}
	for _, id := range g.Admins {
		if id == userID {
			return "admin"
		}
	}
	for _, id := range g.Members {
		if id == userID {
			return "member"
		}
	}
	return ""
}
