package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDContextKey    = "auth_user_id"
	authTokenContextKey = "auth_token"
)

// Middleware validates the request's token and stores the authenticated user
// in the request context. Tokens come from the Authorization header first,
// the auth cookie second.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.extractToken(c)
		if token == "" {
			abortUnauthorized(c, "authorization required")
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), token)
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}
		c.Set(userIDContextKey, userID)
		c.Set(authTokenContextKey, token)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// UserIDFromContext retrieves the authenticated user id from the gin context.
func UserIDFromContext(c *gin.Context) (int64, bool) {
	if val, ok := c.Get(userIDContextKey); ok {
		userID, ok := val.(int64)
		return userID, ok
	}
	return 0, false
}

// AuthTokenFromContext retrieves the token captured by the middleware.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	if val, ok := c.Get(authTokenContextKey); ok {
		token, ok := val.(string)
		return token, ok
	}
	return "", false
}

// bearerToken returns the Authorization bearer value, or "" when the header
// is absent or not a bearer scheme.
func (s *Service) bearerToken(c *gin.Context) string {
	header := c.GetHeader(s.headerName)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func (s *Service) extractToken(c *gin.Context) string {
	if token := s.bearerToken(c); token != "" {
		return token
	}
	if token, err := c.Cookie(s.cookieName); err == nil {
		return token
	}
	return ""
}
