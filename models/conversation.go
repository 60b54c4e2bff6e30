package models

// Conversation is the canonical record for a direct-message thread. Its ID is
// a deterministic function of the sorted participant pair (see convo package),
// which is what keeps two users from ever owning two conversations.
type Conversation struct {
	ID            string       `bson:"_id" json:"id"`
	Participants  []string     `bson:"participants" json:"participants"` // sorted user id hex strings
	LastMessage   *LastMessage `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	LastMessageAt int64        `bson:"lastMessageAt" json:"lastMessageAt"`
	Typing        string       `bson:"typing,omitempty" json:"typing,omitempty"` // user id or empty
	CreatedAt     int64        `bson:"createdAt" json:"createdAt"`
	Partner       *Profile     `bson:"-" json:"partner,omitempty"` // populated in responses only
}

// LastMessage is a cache of the newest message, overwritten unconditionally
// by each sender. It is not a merge target.
type LastMessage struct {
	Text     string `bson:"text" json:"text"`
	SenderID string `bson:"senderId" json:"senderId"`
	At       int64  `bson:"at" json:"at"`
}

// PartnerOf returns the other participant's id, or "" if userID is not a
// participant.
func (c *Conversation) PartnerOf(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
