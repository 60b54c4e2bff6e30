package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"

	"gather/apperr"
	"gather/models"
	"gather/notify"
	"gather/store"
)

type CreateRequestBody struct {
	Kind     string `json:"kind" binding:"required"` // group, connection
	TargetID string `json:"targetId" binding:"required"`
}

// CreateRequest files a join or connection request and notifies whoever can
// decide it. The request record is persisted before the notification goes
// out, so the notification's subject is always loadable.
func (h *Handlers) CreateRequest(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	self := who(c)
	req, err := h.Coord.CreateRequest(ctx, self, body.Kind, body.TargetID)
	if err != nil {
		respondErr(c, err)
		return
	}

	recipient := body.TargetID
	if body.Kind == "group" {
		if doc, err := h.Store.Get(ctx, store.CollGroups, body.TargetID); err == nil {
			var g models.Group
			if doc.Decode(&g) == nil {
				recipient = g.OwnerID
			}
		}
	}

	subject := models.SubjectRef{Collection: store.CollRequests, ID: req.ID.Hex()}
	msg := notify.Render(models.NotifJoinRequest, self.Name)
	if _, err := h.Dispatcher.Notify(ctx, recipient, self.UserID, models.NotifJoinRequest, subject, msg); err != nil {
		log.Printf("notify request %s: %v", req.ID.Hex(), err)
	}
	h.Push.Send(recipient, "New request", msg)

	c.JSON(http.StatusCreated, gin.H{"request": req})
}

// DecideRequest accepts or rejects a pending request and notifies the
// requester of the outcome.
func (h *Handlers) DecideRequest(c *gin.Context) {
	var body struct {
		Accept bool `json:"accept"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	self := who(c)
	req, err := h.Coord.DecideRequest(ctx, self, c.Param("id"), body.Accept)
	if err != nil {
		respondErr(c, err)
		return
	}

	kind := models.NotifJoinAccepted
	if !body.Accept {
		kind = models.NotifJoinRejected
	}
	subject := models.SubjectRef{Collection: store.CollRequests, ID: req.ID.Hex()}
	msg := notify.Render(kind, self.Name)
	if _, err := h.Dispatcher.Notify(ctx, req.FromID, self.UserID, kind, subject, msg); err != nil {
		log.Printf("notify decision %s: %v", req.ID.Hex(), err)
	}
	h.Push.Send(req.FromID, "Request update", msg)

	c.JSON(http.StatusOK, gin.H{"request": req})
}

// GetRequests lists requests targeting the caller (connection requests) or a
// group the caller moderates when ?groupId= is given, pending first.
func (h *Handlers) GetRequests(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	self := who(c)
	filter := bson.M{"targetId": self.UserID, "status": string(models.RequestPending)}
	if groupID := c.Query("groupId"); groupID != "" {
		doc, err := h.Store.Get(ctx, store.CollGroups, groupID)
		if err != nil {
			respondErr(c, err)
			return
		}
		var g models.Group
		if err := doc.Decode(&g); err != nil {
			respondErr(c, apperr.Internal(err))
			return
		}
		if role := g.RoleOf(self.UserID); role != "owner" && role != "admin" {
			respondErr(c, apperr.PermissionDenied("only the group owner or an admin can list its requests"))
			return
		}
		filter["targetId"] = groupID
	}

	docs, err := h.Store.Query(ctx, store.Query{
		Collection: store.CollRequests,
		Filter:     filter,
		OrderField: "createdAt",
		Descending: true,
		Limit:      100,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	reqs := make([]models.JoinRequest, 0, len(docs))
	for _, doc := range docs {
		var r models.JoinRequest
		if doc.Decode(&r) == nil {
			reqs = append(reqs, r)
		}
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}
