package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gather/identity"
)

// IdentityKey is the gin context key the authenticated identity is stored
// under.
const IdentityKey = "identity"

// JWTAuth validates the bearer token and stores the caller's identity in the
// request context. The token is read from the Authorization header or, for
// the websocket endpoint where browsers cannot set headers, from ?token=.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// CORS preflight never carries credentials.
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		tokenString := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   "Invalid authorization header",
					"message": "Format should be: Bearer <token>",
				})
				c.Abort()
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Authentication required",
				"message": "No authorization token provided",
			})
			c.Abort()
			return
		}

		id, err := identity.Verify(tokenString, secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid token",
				"message": "Token validation failed",
			})
			c.Abort()
			return
		}

		c.Set(IdentityKey, id)
		c.Next()
	}
}

// Who returns the identity JWTAuth stored, or an anonymous identity when the
// middleware did not run.
func Who(c *gin.Context) identity.Identity {
	if v, ok := c.Get(IdentityKey); ok {
		if id, ok := v.(identity.Identity); ok {
			return id
		}
	}
	return identity.Identity{}
}
