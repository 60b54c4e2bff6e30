// Package mutate applies user-initiated writes with deterministic conflict
// resolution. Shared sets (likes, seenBy, deletedFor) and counters
// (commentCount, likeCount) are only ever touched through the store's atomic
// operators, never through read-modify-write of a stale copy, so concurrent
// actors cannot double-apply or lose an update.
package mutate

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gather/apperr"
	"gather/identity"
	"gather/models"
	"gather/store"
)

type Coordinator struct {
	store store.Store
	now   func() int64
}

func NewCoordinator(s store.Store) *Coordinator {
	return &Coordinator{store: s, now: func() int64 { return time.Now().Unix() }}
}

// ToggleLike flips the caller's membership in the entity's likes set.
// The read decides the direction; the write is a single $addToSet or $pull
// keyed by (entity, user), so two users toggling concurrently never clobber
// each other and a repeated add/remove is a no-op. collection is
// store.CollPosts or store.CollComments. Reports the resulting membership.
func (c *Coordinator) ToggleLike(ctx context.Context, who identity.Identity, collection, entityID string) (bool, error) {
	doc, err := c.store.Get(ctx, collection, entityID)
	if err != nil {
		return false, err
	}

	liked := false
	for _, el := range toStrings(doc.Data["likes"]) {
		if el == who.UserID {
			liked = true
			break
		}
	}

	ops := store.Ops{}
	if liked {
		ops.Pull = bson.M{"likes": who.UserID}
		if collection == store.CollComments {
			ops.Inc = map[string]int64{"likeCount": -1}
		}
	} else {
		ops.AddToSet = bson.M{"likes": who.UserID}
		if collection == store.CollComments {
			ops.Inc = map[string]int64{"likeCount": 1}
		}
	}

	if err := c.store.UpdateAtomic(ctx, collection, entityID, ops); err != nil {
		return liked, err
	}
	return !liked, nil
}

// UpdateContent edits a post's or comment's content. Author-only; stamps the
// edit so readers can render "edited".
func (c *Coordinator) UpdateContent(ctx context.Context, who identity.Identity, collection, entityID, newContent string) error {
	if newContent == "" {
		return apperr.Invalid("content must not be empty")
	}
	doc, err := c.store.Get(ctx, collection, entityID)
	if err != nil {
		return err
	}
	if authorOf(doc.Data) != who.UserID {
		return apperr.PermissionDenied("only the author can edit")
	}
	return c.store.UpdateAtomic(ctx, collection, entityID, store.Ops{
		Set: bson.M{"content": newContent, "edited": true, "editedAt": c.now()},
	})
}

// EditMessage rewrites a message's text. Sender-only; tombstoned messages
// stay tombstoned.
func (c *Coordinator) EditMessage(ctx context.Context, who identity.Identity, messageID, newText string) error {
	if newText == "" {
		return apperr.Invalid("text must not be empty")
	}
	doc, err := c.store.Get(ctx, store.CollMessages, messageID)
	if err != nil {
		return err
	}
	var msg models.Message
	if err := doc.Decode(&msg); err != nil {
		return apperr.Internal(err)
	}
	if msg.SenderID != who.UserID {
		return apperr.PermissionDenied("only the sender can edit a message")
	}
	if msg.Deleted {
		return apperr.Conflict("message was deleted")
	}
	return c.store.UpdateAtomic(ctx, store.CollMessages, messageID, store.Ops{
		Set: bson.M{"text": newText, "edited": true, "editedAt": c.now()},
	})
}

// DeleteMessageForMe hides a message from the caller only. The deletedFor
// set grows monotonically; repeating the call changes nothing.
func (c *Coordinator) DeleteMessageForMe(ctx context.Context, who identity.Identity, messageID string) error {
	return c.store.UpdateAtomic(ctx, store.CollMessages, messageID, store.Ops{
		AddToSet: bson.M{"deletedFor": who.UserID},
	})
}

// DeleteMessageForEveryone tombstones a message: the flag is set and the text
// wiped, but the record stays so ordering and replies keep their anchor.
// Sender-only. Terminal: there is no way back to an active message.
func (c *Coordinator) DeleteMessageForEveryone(ctx context.Context, who identity.Identity, messageID string) error {
	doc, err := c.store.Get(ctx, store.CollMessages, messageID)
	if err != nil {
		return err
	}
	var msg models.Message
	if err := doc.Decode(&msg); err != nil {
		return apperr.Internal(err)
	}
	if msg.SenderID != who.UserID {
		return apperr.PermissionDenied("only the sender can delete for everyone")
	}
	return c.store.UpdateAtomic(ctx, store.CollMessages, messageID, store.Ops{
		Set: bson.M{"deleted": true, "text": ""},
	})
}

// CreatePost appends a post to a group feed.
func (c *Coordinator) CreatePost(ctx context.Context, who identity.Identity, groupID, content string, media []string) (models.Post, error) {
	if content == "" && len(media) == 0 {
		return models.Post{}, apperr.Invalid("post must have content or media")
	}
	gid, err := primitive.ObjectIDFromHex(groupID)
	if err != nil {
		return models.Post{}, apperr.Invalid("invalid group id")
	}
	author, err := primitive.ObjectIDFromHex(who.UserID)
	if err != nil {
		return models.Post{}, apperr.Invalid("invalid user id")
	}

	post := models.Post{
		ID:        primitive.NewObjectID(),
		GroupID:   gid,
		AuthorID:  author,
		Content:   content,
		Media:     media,
		CreatedAt: c.now(),
		Likes:     []string{},
	}
	if _, err := c.store.Insert(ctx, store.CollPosts, post); err != nil {
		return models.Post{}, err
	}
	return post, nil
}

// CreateComment appends a comment under a post and bumps the post's
// commentCount with an atomic increment, so concurrent commenters never lose
// a count.
func (c *Coordinator) CreateComment(ctx context.Context, who identity.Identity, postID, content string) (models.Comment, error) {
	if content == "" {
		return models.Comment{}, apperr.Invalid("comment must not be empty")
	}
	pid, err := primitive.ObjectIDFromHex(postID)
	if err != nil {
		return models.Comment{}, apperr.Invalid("invalid post id")
	}
	author, err := primitive.ObjectIDFromHex(who.UserID)
	if err != nil {
		return models.Comment{}, apperr.Invalid("invalid user id")
	}
	if _, err := c.store.Get(ctx, store.CollPosts, postID); err != nil {
		return models.Comment{}, err
	}

	comment := models.Comment{
		ID:        primitive.NewObjectID(),
		PostID:    pid,
		AuthorID:  author,
		Content:   content,
		CreatedAt: c.now(),
		Likes:     []string{},
	}
	if _, err := c.store.Insert(ctx, store.CollComments, comment); err != nil {
		return models.Comment{}, err
	}
	inc := store.Ops{Inc: map[string]int64{"commentCount": 1}}
	err = c.store.UpdateAtomic(ctx, store.CollPosts, postID, inc)
	if apperr.IsTransient(err) {
		err = c.store.UpdateAtomic(ctx, store.CollPosts, postID, inc)
	}
	if err != nil && !apperr.IsNotFound(err) {
		// The comment itself is durable; an undercounted post is better than
		// losing the comment, but the miss must not be silent.
		log.Printf("comment %s: commentCount increment on post %s failed: %v", comment.ID.Hex(), postID, err)
	}
	return comment, nil
}

// DeleteComment removes a comment (author, or owner/admin of the post's
// group) and decrements the parent's commentCount exactly once: the
// decrement only runs when this call was the one that removed the record.
func (c *Coordinator) DeleteComment(ctx context.Context, who identity.Identity, commentID string) error {
	doc, err := c.store.Get(ctx, store.CollComments, commentID)
	if err != nil {
		return err
	}
	var comment models.Comment
	if err := doc.Decode(&comment); err != nil {
		return apperr.Internal(err)
	}

	if comment.AuthorID.Hex() != who.UserID {
		ok, err := c.moderatesPost(ctx, who, comment.PostID.Hex())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.PermissionDenied("not allowed to delete this comment")
		}
	}

	removed, err := c.store.DeleteMany(ctx, store.CollComments, bson.M{"_id": store.DocID(commentID)})
	if err != nil {
		return err
	}
	if removed == 0 {
		// Someone else deleted it first; they own the decrement.
		return nil
	}
	err = c.store.UpdateAtomic(ctx, store.CollPosts, comment.PostID.Hex(), store.Ops{
		Inc: map[string]int64{"commentCount": -1},
	})
	if err != nil && !apperr.IsNotFound(err) {
		return err
	}
	return nil
}

// DeletePost removes a post and its comments. Author, or owner/admin of the
// post's group.
func (c *Coordinator) DeletePost(ctx context.Context, who identity.Identity, postID string) error {
	doc, err := c.store.Get(ctx, store.CollPosts, postID)
	if err != nil {
		return err
	}
	var post models.Post
	if err := doc.Decode(&post); err != nil {
		return apperr.Internal(err)
	}

	if post.AuthorID.Hex() != who.UserID {
		ok, err := c.moderatesGroup(ctx, who, post.GroupID.Hex())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.PermissionDenied("not allowed to delete this post")
		}
	}

	if err := c.store.Delete(ctx, store.CollPosts, postID); err != nil {
		return err
	}
	_, err = c.store.DeleteMany(ctx, store.CollComments, bson.M{"postId": post.ID})
	return err
}

// SendMessage appends a message to a conversation the caller participates in
// and overwrites the conversation's lastMessage cache. The cache is written
// unconditionally: it mirrors the newest message, it is not a merge target.
func (c *Coordinator) SendMessage(ctx context.Context, who identity.Identity, conversationID, text, msgType, replyTo string) (models.Message, error) {
	if text == "" {
		return models.Message{}, apperr.Invalid("message text must not be empty")
	}
	if msgType == "" {
		msgType = "text"
	}

	convDoc, err := c.store.Get(ctx, store.CollConversations, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	var conv models.Conversation
	if err := convDoc.Decode(&conv); err != nil {
		return models.Message{}, apperr.Internal(err)
	}
	if !conv.HasParticipant(who.UserID) {
		return models.Message{}, apperr.PermissionDenied("not a participant of this conversation")
	}

	msg := models.Message{
		ID:             primitive.NewObjectID(),
		ConversationID: conversationID,
		SenderID:       who.UserID,
		Text:           text,
		Type:           msgType,
		CreatedAt:      c.now(),
		DeletedFor:     []string{},
		SeenBy:         []string{who.UserID},
		ReplyTo:        replyTo,
	}
	if _, err := c.store.Insert(ctx, store.CollMessages, msg); err != nil {
		return models.Message{}, err
	}

	err = c.store.UpdateAtomic(ctx, store.CollConversations, conversationID, store.Ops{
		Set: bson.M{
			"lastMessage":   models.LastMessage{Text: text, SenderID: who.UserID, At: msg.CreatedAt},
			"lastMessageAt": msg.CreatedAt,
		},
	})
	if err != nil {
		// Message is durable; a stale lastMessage heals on the next send.
		return msg, nil
	}
	return msg, nil
}

func (c *Coordinator) moderatesPost(ctx context.Context, who identity.Identity, postID string) (bool, error) {
	doc, err := c.store.Get(ctx, store.CollPosts, postID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	var post models.Post
	if err := doc.Decode(&post); err != nil {
		return false, apperr.Internal(err)
	}
	return c.moderatesGroup(ctx, who, post.GroupID.Hex())
}

func (c *Coordinator) moderatesGroup(ctx context.Context, who identity.Identity, groupID string) (bool, error) {
	doc, err := c.store.Get(ctx, store.CollGroups, groupID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	var group models.Group
	if err := doc.Decode(&group); err != nil {
		return false, apperr.Internal(err)
	}
	role := group.RoleOf(who.UserID)
	return role == "owner" || role == "admin", nil
}

// authorOf reads authorId in either stored form.
func authorOf(data bson.M) string {
	switch v := data["authorId"].(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return ""
	}
}

func toStrings(v any) []string {
	switch arr := v.(type) {
	case bson.A:
		out := make([]string, 0, len(arr))
		for _, el := range arr {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return arr
	default:
		return nil
	}
}
