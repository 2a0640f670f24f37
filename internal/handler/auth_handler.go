package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/healthcare-educate/internal/dto"
	"github.com/prohmpiriya/healthcare-educate/internal/middleware"
	"github.com/prohmpiriya/healthcare-educate/internal/service"
	"github.com/prohmpiriya/healthcare-educate/pkg/response"
)

// CookieConfig controls the refresh token cookie
type CookieConfig struct {
	Name   string
	Domain string
	Path   string
	Secure bool
	MaxAge time.Duration
}

// AuthHandler handles authentication HTTP requests
type AuthHandler struct {
	authService service.AuthService
	cookie      CookieConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authService service.AuthService, cookie CookieConfig) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "refreshToken"
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	return &AuthHandler{authService: authService, cookie: cookie}
}

// Register handles user registration
// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	h.setRefreshCookie(c, result.RefreshToken)
	c.JSON(http.StatusCreated, response.Success(result))
}

// Login handles user login
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	h.setRefreshCookie(c, result.RefreshToken)
	c.JSON(http.StatusOK, response.Success(result))
}

// RefreshToken rotates the refresh token taken from the cookie, or the body when no cookie is sent
// POST /api/auth/refresh
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	token, _ := c.Cookie(h.cookie.Name)
	if token == "" {
		var req dto.RefreshTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, response.BadRequest("Malformed request body"))
			return
		}
		token = req.RefreshToken
	}

	result, err := h.authService.Refresh(c.Request.Context(), token)
	if err != nil {
		h.clearRefreshCookie(c)
		writeError(c, err)
		return
	}

	h.setRefreshCookie(c, result.RefreshToken)
	c.JSON(http.StatusOK, response.Success(result))
}

// Logout revokes the stored refresh token
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Authentication required"))
		return
	}

	if err := h.authService.Logout(c.Request.Context(), userID); err != nil {
		writeError(c, err)
		return
	}

	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, response.Success(gin.H{"message": "Logged out successfully"}))
}

// Me returns current user info
// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Authentication required"))
		return
	}

	user, err := h.authService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(dto.MeResponse{User: user}))
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookie.Name, token, int(h.cookie.MaxAge.Seconds()), h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookie.Name, "", -1, h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}
