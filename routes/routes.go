package routes

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"gather/config"
	"gather/handlers"
	"gather/middleware"
	"gather/realtime"
)

// Setup builds the router: public auth routes, the protected API group, and
// the websocket endpoint.
func Setup(cfg *config.Config, h *handlers.Handlers, hub *realtime.Hub) *gin.Engine {
	router := gin.Default()

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"time":    time.Now().Unix(),
			"clients": hub.ConnectedClients(),
		})
	})

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Public routes.
	router.POST("/api/signup", h.Signup)
	router.POST("/api/login", h.Login)
	router.GET("/api/vapid-public-key", h.GetVapidPublicKey)

	protected := router.Group("/api")
	protected.Use(middleware.JWTAuth(cfg.JWTSecret))

	protected.GET("/me", h.Me)

	// Groups.
	protected.POST("/groups", h.CreateGroup)
	protected.GET("/groups/:id", h.GetGroup)

	// Posts and comments.
	protected.POST("/posts", h.CreatePost)
	protected.GET("/groups/:id/feed", h.GetFeed)
	protected.POST("/posts/:id/like", h.ToggleLikePost)
	protected.PUT("/posts/:id", h.EditPost)
	protected.DELETE("/posts/:id", h.DeletePost)
	protected.POST("/posts/:id/comments", h.CreateComment)
	protected.GET("/posts/:id/comments", h.GetThread)
	protected.POST("/comments/:id/like", h.ToggleLikeComment)
	protected.PUT("/comments/:id", h.EditComment)
	protected.DELETE("/comments/:id", h.DeleteComment)

	// Conversations and messages.
	protected.POST("/conversations", h.StartConversation)
	protected.GET("/conversations", h.GetConversations)
	protected.GET("/conversations/:conversationId", h.GetConversation)
	protected.GET("/conversations/:conversationId/messages", h.GetMessages)
	protected.POST("/conversations/:conversationId/typing", h.SetTyping)
	protected.POST("/conversations/:conversationId/seen", h.MarkSeen)
	protected.POST("/messages", h.SendMessage)
	protected.PUT("/messages/:id", h.EditMessage)
	protected.DELETE("/messages/:id", h.DeleteMessage)

	// Requests.
	protected.POST("/requests", h.CreateRequest)
	protected.GET("/requests", h.GetRequests)
	protected.POST("/requests/:id/decide", h.DecideRequest)

	// Notifications.
	protected.GET("/notifications", h.GetNotifications)
	protected.PUT("/notifications/read-all", h.MarkAllNotificationsRead)
	protected.PUT("/notifications/:id/read", h.MarkNotificationRead)
	protected.DELETE("/notifications/:id", h.DeleteNotification)

	// Push.
	protected.POST("/push/subscribe", h.SubscribePush)

	// WebSocket. Auth runs through the same middleware via ?token=.
	ws := router.Group("/ws")
	ws.Use(middleware.JWTAuth(cfg.JWTSecret))
	ws.GET("", func(c *gin.Context) {
		hub.Handler(middleware.Who(c))(c.Writer, c.Request)
	})

	return router
}
