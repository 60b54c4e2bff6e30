package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gather/middleware"
	"gather/models"
	"gather/store"
)

func newRequestRouter(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()
	router, h, mem := newTestRouter(t)
	protected := router.Group("/api")
	protected.Use(middleware.JWTAuth(testSecret))
	protected.POST("/requests", h.CreateRequest)
	protected.GET("/requests", h.GetRequests)
	protected.POST("/requests/:id/decide", h.DecideRequest)
	return router, mem
}

func seedTestGroup(t *testing.T, mem *store.Memory, ownerID string) string {
	t.Helper()
	g := models.Group{
		ID:      primitive.NewObjectID(),
		Name:    "hiking",
		OwnerID: ownerID,
		Members: []string{ownerID},
	}
	_, err := mem.Insert(context.Background(), store.CollGroups, g)
	require.NoError(t, err)
	return g.ID.Hex()
}

func TestGetRequestsForGroup(t *testing.T) {
	router, mem := newRequestRouter(t)

	ownerToken := signup(t, router, "owner@example.com", "Owner")
	applicantToken := signup(t, router, "applicant@example.com", "Applicant")
	groupID := seedTestGroup(t, mem, userIDFromToken(t, ownerToken))

	w := doJSON(t, router, http.MethodPost, "/api/requests", applicantToken, gin.H{
		"kind":     "group",
		"targetId": groupID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// The owner sees the pending request.
	w = doJSON(t, router, http.MethodGet, "/api/requests?groupId="+groupID, ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Requests []models.JoinRequest `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Requests, 1)
	assert.Equal(t, models.RequestPending, resp.Requests[0].Status)

	// A non-moderator cannot list a group's requests, not even the applicant.
	w = doJSON(t, router, http.MethodGet, "/api/requests?groupId="+groupID, applicantToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Decided requests drop out of the pending list.
	w = doJSON(t, router, http.MethodPost, "/api/requests/"+resp.Requests[0].ID.Hex()+"/decide", ownerToken, gin.H{
		"accept": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/api/requests?groupId="+groupID, ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp.Requests = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Requests)
}
