package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"gather/models"
	"gather/store"
)

type StartConversationRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// StartConversation resolves (and lazily creates) the canonical conversation
// between the caller and another user. Calling it twice, or from both sides
// at once, always lands on the same record.
func (h *Handlers) StartConversation(c *gin.Context) {
	var req StartConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	conv, created, err := h.Resolver.Ensure(ctx, who(c).UserID, req.UserID)
	if err != nil {
		respondErr(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.attachPartner(ctx, who(c).UserID, &conv)
	c.JSON(status, conv)
}

// GetConversations lists the caller's conversations, most recently active
// first, with the partner profile attached.
func (h *Handlers) GetConversations(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	convs, err := h.Resolver.List(ctx, who(c).UserID)
	if err != nil {
		respondErr(c, err)
		return
	}
	for i := range convs {
		h.attachPartner(ctx, who(c).UserID, &convs[i])
	}
	c.JSON(http.StatusOK, convs)
}

func (h *Handlers) GetConversation(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	conv, err := h.Resolver.Get(ctx, c.Param("conversationId"), who(c).UserID)
	if err != nil {
		respondErr(c, err)
		return
	}
	h.attachPartner(ctx, who(c).UserID, &conv)
	c.JSON(http.StatusOK, conv)
}

type TypingRequest struct {
	Stop bool `json:"stop,omitempty"`
}

// SetTyping is the REST fallback for clients without a WebSocket connection.
func (h *Handlers) SetTyping(c *gin.Context) {
	var req TypingRequest
	// Empty body means "typing started".
	_ = c.ShouldBindJSON(&req)

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	conv, err := h.Resolver.Get(ctx, c.Param("conversationId"), who(c).UserID)
	if err != nil {
		respondErr(c, err)
		return
	}

	if req.Stop {
		err = h.Typing.ClearTyping(ctx, conv.ID)
	} else {
		err = h.Typing.SetTyping(ctx, conv.ID, who(c).UserID)
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// attachPartner fills the response-only partner profile, with fallbacks for
// vanished users.
func (h *Handlers) attachPartner(ctx context.Context, selfID string, conv *models.Conversation) {
	partnerID := conv.PartnerOf(selfID)
	profile := models.Profile{ID: partnerID, Name: "Unknown", Avatar: fallbackAvatar, Status: "offline"}
	if partnerID != "" {
		if doc, err := h.Store.Get(ctx, store.CollUsers, partnerID); err == nil {
			var user models.User
			if doc.Decode(&user) == nil {
				profile = user.Profile()
			}
		}
	}
	conv.Partner = &profile
}
