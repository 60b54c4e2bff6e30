package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gather/models"
	"gather/store"
)

type CreateCommentRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handlers) CreateComment(c *gin.Context) {
	var req CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	comment, err := h.Coord.CreateComment(ctx, who(c), c.Param("id"), req.Content)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"commentId": comment.ID.Hex()})
}

// GetThread returns one page of a post's comment thread, newest first.
func (h *Handlers) GetThread(c *gin.Context) {
	pid, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post ID"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	q := store.Query{
		Collection: store.CollComments,
		Filter:     bson.M{"postId": pid},
		OrderField: "createdAt",
		Descending: true,
	}
	page, err := h.loadPage(ctx, c, q)
	if err != nil {
		respondErr(c, err)
		return
	}

	comments := make([]models.Comment, 0, len(page.Docs))
	for _, doc := range page.Docs {
		var cm models.Comment
		if doc.Decode(&cm) == nil {
			comments = append(comments, cm)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"items":   comments,
		"cursor":  page.Cursor,
		"hasMore": page.HasMore,
	})
}

func (h *Handlers) ToggleLikeComment(c *gin.Context) {
	h.toggleLike(c, store.CollComments, c.Param("id"))
}

func (h *Handlers) EditComment(c *gin.Context) {
	var req UpdateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.Coord.UpdateContent(ctx, who(c), store.CollComments, c.Param("id"), req.Content); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Comment updated"})
}

func (h *Handlers) DeleteComment(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.Coord.DeleteComment(ctx, who(c), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Comment deleted"})
}
