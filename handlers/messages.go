package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"

	"gather/models"
	"gather/store"
)

type SendMessageRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	Text           string `json:"text" binding:"required"`
	Type           string `json:"type,omitempty"`
	ReplyTo        string `json:"replyTo,omitempty"`
}

func (h *Handlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	sender := who(c)
	msg, err := h.Coord.SendMessage(ctx, sender, req.ConversationID, req.Text, req.Type, req.ReplyTo)
	if err != nil {
		respondErr(c, err)
		return
	}

	// Sending ends the sender's typing state. Best effort, the quiet-period
	// timer clears it anyway.
	_ = h.Typing.ClearTyping(ctx, req.ConversationID)

	if conv, err := h.Resolver.Get(ctx, req.ConversationID, sender.UserID); err == nil {
		h.Push.NewMessage(conv.PartnerOf(sender.UserID), sender.Name, req.Text)
	}

	c.JSON(http.StatusCreated, gin.H{"id": msg.ID.Hex(), "message": msg})
}

// GetMessages returns one page of a conversation, newest first. Tombstoned
// messages come back flagged; messages hidden for the caller are filtered.
func (h *Handlers) GetMessages(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	self := who(c)
	conv, err := h.Resolver.Get(ctx, c.Param("conversationId"), self.UserID)
	if err != nil {
		respondErr(c, err)
		return
	}

	q := store.Query{
		Collection: store.CollMessages,
		Filter:     bson.M{"conversationId": conv.ID},
		OrderField: "createdAt",
		Descending: true,
	}
	page, err := h.loadPage(ctx, c, q)
	if err != nil {
		respondErr(c, err)
		return
	}

	msgs := make([]models.Message, 0, len(page.Docs))
	for _, doc := range page.Docs {
		var m models.Message
		if doc.Decode(&m) != nil {
			continue
		}
		if m.HiddenFor(self.UserID) {
			continue
		}
		msgs = append(msgs, m)
	}

	c.JSON(http.StatusOK, gin.H{
		"items":   msgs,
		"cursor":  page.Cursor,
		"hasMore": page.HasMore,
	})
}

func (h *Handlers) EditMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.Coord.EditMessage(ctx, who(c), c.Param("id"), req.Text); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message updated"})
}

// DeleteMessage handles both variants: ?scope=me hides for the caller,
// ?scope=everyone tombstones (sender only).
func (h *Handlers) DeleteMessage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	var err error
	switch c.DefaultQuery("scope", "me") {
	case "everyone":
		err = h.Coord.DeleteMessageForEveryone(ctx, who(c), c.Param("id"))
	default:
		err = h.Coord.DeleteMessageForMe(ctx, who(c), c.Param("id"))
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

// MarkSeen records the caller as having seen a conversation (or a single
// message with ?messageId=).
func (h *Handlers) MarkSeen(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	self := who(c)
	conv, err := h.Resolver.Get(ctx, c.Param("conversationId"), self.UserID)
	if err != nil {
		respondErr(c, err)
		return
	}

	if messageID := c.Query("messageId"); messageID != "" {
		if err := h.Receipts.MarkSeen(ctx, self.UserID, messageID); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updatedCount": 1})
		return
	}

	n, err := h.Receipts.MarkConversationSeen(ctx, self.UserID, conv.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updatedCount": n})
}
