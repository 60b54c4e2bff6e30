// Package handlers is the HTTP surface over the sync core. Request parsing
// and status mapping live here; all domain rules live in the coordinators.
package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gather/apperr"
	"gather/convo"
	"gather/identity"
	"gather/middleware"
	"gather/mutate"
	"gather/notify"
	"gather/presence"
	"gather/push"
	"gather/receipts"
	"gather/store"
	gsync "gather/sync"
)

const fallbackAvatar = "https://upload.wikimedia.org/wikipedia/commons/8/89/Portrait_Placeholder.png"

const requestTimeout = 10 * time.Second

// Handlers bundles the components the HTTP surface calls into. Everything is
// injected; no package globals.
type Handlers struct {
	Store      store.Store
	Coord      *mutate.Coordinator
	Resolver   *convo.Resolver
	Dispatcher *notify.Dispatcher
	Receipts   *receipts.Tracker
	Typing     *presence.Tracker
	Paginator  *gsync.Paginator
	Push       *push.Sender
	JWTSecret  string
}

// who returns the identity the auth middleware resolved for this request.
func who(c *gin.Context) identity.Identity {
	v, ok := c.Get(middleware.IdentityKey)
	if !ok {
		return identity.Identity{}
	}
	id, _ := v.(identity.Identity)
	return id
}

// respondErr maps an error from the core onto an HTTP response. Unknown
// errors are logged server-side and come back as a bare 500.
func respondErr(c *gin.Context, err error) {
	if ae := apperr.As(err); ae != nil {
		if ae.Cause != nil {
			log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, ae.Cause)
		}
		c.JSON(ae.HTTPStatus, gin.H{"error": ae.Message})
		return
	}
	log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
