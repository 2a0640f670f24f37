package handler

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/pkg/logger"
	"github.com/prohmpiriya/healthcare-educate/pkg/response"
)

func init() {
	// Report request fields by their JSON names
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	}
}

// bindJSON binds the body and writes the error response on failure
func bindJSON(c *gin.Context, obj interface{}) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		c.JSON(http.StatusUnprocessableEntity, response.ValidationError(fe.Field(), validationMessage(fe)))
		return false
	}

	c.JSON(http.StatusBadRequest, response.BadRequest("Malformed request body"))
	return false
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// writeError maps service errors onto the response envelope
func writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	var exists *domain.SubscriptionExistsError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, response.ValidationError(verr.Field, verr.Message))

	case errors.Is(err, domain.ErrEmailTaken):
		c.JSON(http.StatusConflict, response.Conflict("USER_EXISTS", "Email is already registered"))
	case errors.Is(err, domain.ErrUsernameTaken):
		c.JSON(http.StatusConflict, response.Conflict("USER_EXISTS", "Username is already taken"))

	case errors.Is(err, domain.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Invalid email or password"))
	case errors.Is(err, domain.ErrMissingToken),
		errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrTokenRevoked):
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Invalid or expired token"))

	case errors.Is(err, domain.ErrUserNotFound):
		c.JSON(http.StatusNotFound, response.NotFound("User not found"))
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		c.JSON(http.StatusNotFound, response.NotFound("No subscription found"))

	case errors.As(err, &exists):
		c.JSON(http.StatusBadRequest, response.ErrorWithDetails("SUBSCRIPTION_EXISTS",
			"You already have an active subscription",
			gin.H{"subscriptionId": exists.SubscriptionID, "status": exists.Status},
		))
	case errors.Is(err, domain.ErrPriceNotAllowed):
		c.JSON(http.StatusBadRequest, response.BadRequest("Price is not available"))
	case errors.Is(err, domain.ErrSubscriptionRequired):
		c.JSON(http.StatusForbidden, response.Forbidden("SUBSCRIPTION_REQUIRED", "An active subscription is required"))

	default:
		logger.Get().WithContext(c.Request.Context()).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, response.InternalError())
	}
}
