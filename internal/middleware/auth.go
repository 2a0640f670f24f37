package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/pkg/response"
)

// Context keys set by JWTAuth
const (
	ContextKeyUserID   = "user_id"
	ContextKeyEmail    = "email"
	ContextKeyUsername = "username"
)

// TokenVerifier validates access tokens
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, accessToken string) (*domain.Claims, error)
}

// JWTAuth requires a valid bearer access token and stores its claims in the context.
// Every failure gets the same generic 401.
func JWTAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Unauthorized("Authentication required"))
			return
		}

		claims, err := verifier.VerifyAccess(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Unauthorized("Invalid or expired token"))
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Set(ContextKeyUsername, claims.Username)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetUserID returns the authenticated user id
func GetUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

// GetEmail returns the authenticated user's email
func GetEmail(c *gin.Context) string {
	return c.GetString(ContextKeyEmail)
}
