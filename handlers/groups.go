package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gather/models"
	"gather/store"
)

func (h *Handlers) CreateGroup(c *gin.Context) {
	var body struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	self := who(c)
	group := models.Group{
		ID:        primitive.NewObjectID(),
		Name:      body.Name,
		OwnerID:   self.UserID,
		Admins:    []string{},
		Members:   []string{self.UserID},
		CreatedAt: time.Now().Unix(),
	}
	if _, err := h.Store.Insert(ctx, store.CollGroups, group); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"group": group})
}

func (h *Handlers) GetGroup(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	doc, err := h.Store.Get(ctx, store.CollGroups, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	var group models.Group
	if err := doc.Decode(&group); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group, "role": group.RoleOf(who(c).UserID)})
}
