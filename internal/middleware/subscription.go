package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/healthcare-educate/pkg/logger"
	"github.com/prohmpiriya/healthcare-educate/pkg/response"
)

// AccessChecker decides whether a user may use premium features
type AccessChecker interface {
	HasActiveAccess(ctx context.Context, userID int64) (bool, error)
}

// RequireActiveSubscription must run after JWTAuth
func RequireActiveSubscription(checker AccessChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Unauthorized("Authentication required"))
			return
		}

		allowed, err := checker.HasActiveAccess(c.Request.Context(), userID)
		if err != nil {
			logger.Get().WithContext(c.Request.Context()).Error("Failed to check subscription",
				zap.Int64("user_id", userID),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.InternalError())
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Forbidden("SUBSCRIPTION_REQUIRED", "An active subscription is required"))
			return
		}

		c.Next()
	}
}
