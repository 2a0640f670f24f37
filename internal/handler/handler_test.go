package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/internal/gateway"
	"github.com/prohmpiriya/healthcare-educate/internal/middleware"
	"github.com/prohmpiriya/healthcare-educate/internal/repository"
	"github.com/prohmpiriya/healthcare-educate/internal/service"
)

const testWebhookSecret = "whsec_handler_test"

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

type testServer struct {
	router  *gin.Engine
	billing *repository.MemoryBillingRepository
}

func newTestServer() *testServer {
	users := repository.NewMemoryUserRepository()
	billing := repository.NewMemoryBillingRepository()
	gw := gateway.NewMockGateway(&gateway.MockGatewayConfig{WebhookSecret: testWebhookSecret})

	authSvc := service.NewAuthService(users, &service.AuthServiceConfig{
		AccessSecret:    "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		Issuer:          "test",
	})
	billingSvc := service.NewBillingService(billing, billing, gw, &service.BillingServiceConfig{
		FrontendURL: "http://localhost:3000",
	})
	webhookSvc := service.NewWebhookService(gw, users, billing, billing, nil, nil, &service.WebhookServiceConfig{})

	authHandler := NewAuthHandler(authSvc, CookieConfig{MaxAge: 7 * 24 * time.Hour})
	billingHandler := NewBillingHandler(billingSvc)
	webhookHandler := NewWebhookHandler(webhookSvc)
	jwt := middleware.JWTAuth(authSvc)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.RefreshToken)
	api.POST("/auth/logout", jwt, authHandler.Logout)
	api.GET("/auth/me", jwt, authHandler.Me)
	api.POST("/payment/checkout/session", jwt, billingHandler.CreateCheckoutSession)
	api.POST("/payment/portal/session", jwt, billingHandler.CreatePortalSession)
	api.GET("/payment/subscription/status", jwt, billingHandler.GetSubscriptionStatus)
	api.GET("/payment/payments/history", jwt, billingHandler.GetPaymentHistory)
	api.GET("/premium/access", jwt, middleware.RequireActiveSubscription(billingSvc), billingHandler.PremiumAccess)
	api.POST("/webhooks/stripe", webhookHandler.HandleStripeWebhook)

	return &testServer{router: r, billing: billing}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// register signs up a user and returns its access token and refresh cookie
func (s *testServer) register(t *testing.T, username, email string) (string, *http.Cookie) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"username": username,
		"email":    email,
		"password": "secret123",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var data struct {
		AccessToken string `json:"accessToken"`
	}
	decodeData(t, w, &data)
	return data.AccessToken, refreshCookie(w)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	env := decode(t, w)
	require.True(t, env.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func refreshCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "refreshToken" {
			return c
		}
	}
	return nil
}

func TestAuthHandler_Register(t *testing.T) {
	s := newTestServer()

	w := s.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"username": "alice",
		"email":    "Alice@Example.com",
		"password": "secret123",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	var data struct {
		AccessToken string `json:"accessToken"`
		User        struct {
			ID    int64  `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	decodeData(t, w, &data)
	assert.NotEmpty(t, data.AccessToken)
	assert.Equal(t, "alice@example.com", data.User.Email)
	assert.NotContains(t, w.Body.String(), "refreshToken")
	assert.NotContains(t, w.Body.String(), "password")

	cookie := refreshCookie(w)
	require.NotNil(t, cookie)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), cookie.MaxAge)
}

func TestAuthHandler_RegisterDuplicate(t *testing.T) {
	s := newTestServer()
	s.register(t, "alice", "alice@example.com")

	w := s.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"username": "alice2",
		"email":    "alice@example.com",
		"password": "secret123",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	env := decode(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, "USER_EXISTS", env.Error.Code)
}

func TestAuthHandler_RegisterInvalidInput(t *testing.T) {
	s := newTestServer()

	tests := []struct {
		name  string
		body  interface{}
		code  int
		field string
	}{
		{
			name:  "short password",
			body:  gin.H{"username": "alice", "email": "alice@example.com", "password": "123"},
			code:  http.StatusUnprocessableEntity,
			field: "password",
		},
		{
			name:  "bad email",
			body:  gin.H{"username": "alice", "email": "not-an-email", "password": "secret123"},
			code:  http.StatusUnprocessableEntity,
			field: "email",
		},
		{
			name:  "missing username",
			body:  gin.H{"email": "alice@example.com", "password": "secret123"},
			code:  http.StatusUnprocessableEntity,
			field: "username",
		},
		{
			name: "malformed json",
			body: `{"username":`,
			code: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/auth/register", tt.body, "")
			assert.Equal(t, tt.code, w.Code)

			env := decode(t, w)
			require.NotNil(t, env.Error)
			if tt.field != "" {
				assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
				assert.Equal(t, tt.field, env.Error.Details["field"])
			} else {
				assert.Equal(t, "BAD_REQUEST", env.Error.Code)
			}
		})
	}
}

func TestAuthHandler_Login(t *testing.T) {
	s := newTestServer()
	s.register(t, "alice", "alice@example.com")

	w := s.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": "alice@example.com", "password": "secret123"}, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, refreshCookie(w))

	w = s.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": "alice@example.com", "password": "wrong-password"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, w).Error.Code)

	w = s.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": "nobody@example.com", "password": "secret123"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_RefreshWithCookie(t *testing.T) {
	s := newTestServer()
	_, cookie := s.register(t, "alice", "alice@example.com")
	require.NotNil(t, cookie)

	w := s.do(t, http.MethodPost, "/api/auth/refresh", nil, "", cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rotated := refreshCookie(w)
	require.NotNil(t, rotated)
	assert.NotEqual(t, cookie.Value, rotated.Value)

	// The previous token was replaced and is rejected
	w = s.do(t, http.MethodPost, "/api/auth/refresh", nil, "", cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	cleared := refreshCookie(w)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestAuthHandler_RefreshWithBody(t *testing.T) {
	s := newTestServer()
	_, cookie := s.register(t, "alice", "alice@example.com")

	w := s.do(t, http.MethodPost, "/api/auth/refresh", gin.H{"refreshToken": cookie.Value}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		AccessToken string `json:"accessToken"`
	}
	decodeData(t, w, &data)
	assert.NotEmpty(t, data.AccessToken)
}

func TestAuthHandler_RefreshMissingToken(t *testing.T) {
	s := newTestServer()

	w := s.do(t, http.MethodPost, "/api/auth/refresh", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/refresh", `{"refreshToken":`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_LogoutRevokesRefreshToken(t *testing.T) {
	s := newTestServer()
	token, cookie := s.register(t, "alice", "alice@example.com")

	w := s.do(t, http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	cleared := refreshCookie(w)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	w = s.do(t, http.MethodPost, "/api/auth/refresh", nil, "", cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/logout", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_Me(t *testing.T) {
	s := newTestServer()
	token, _ := s.register(t, "alice", "alice@example.com")

	w := s.do(t, http.MethodGet, "/api/auth/me", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		User struct {
			Username string `json:"username"`
			Email    string `json:"email"`
		} `json:"user"`
	}
	decodeData(t, w, &data)
	assert.Equal(t, "alice", data.User.Username)
	assert.Equal(t, "alice@example.com", data.User.Email)

	w = s.do(t, http.MethodGet, "/api/auth/me", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBillingHandler_CheckoutSession(t *testing.T) {
	s := newTestServer()
	token, _ := s.register(t, "alice", "alice@example.com")

	w := s.do(t, http.MethodPost, "/api/payment/checkout/session", gin.H{"priceId": "price_basic"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		SessionID string `json:"sessionId"`
		URL       string `json:"url"`
	}
	decodeData(t, w, &data)
	assert.NotEmpty(t, data.SessionID)
	assert.NotEmpty(t, data.URL)

	w = s.do(t, http.MethodPost, "/api/payment/checkout/session", gin.H{}, token)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/api/payment/checkout/session", gin.H{"priceId": "price_basic"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBillingHandler_CheckoutBlockedByLiveSubscription(t *testing.T) {
	s := newTestServer()
	token, _ := s.register(t, "alice", "alice@example.com")
	seedSubscription(t, s.billing, 1, "sub_live")

	w := s.do(t, http.MethodPost, "/api/payment/checkout/session", gin.H{"priceId": "price_basic"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "SUBSCRIPTION_EXISTS", env.Error.Code)
	assert.Equal(t, "sub_live", env.Error.Details["subscriptionId"])
	assert.Equal(t, "active", env.Error.Details["status"])
}

func TestBillingHandler_PortalSession(t *testing.T) {
	s := newTestServer()
	token, _ := s.register(t, "alice", "alice@example.com")

	w := s.do(t, http.MethodPost, "/api/payment/portal/session", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	seedSubscription(t, s.billing, 1, "sub_live")
	w = s.do(t, http.MethodPost, "/api/payment/portal/session", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		URL string `json:"url"`
	}
	decodeData(t, w, &data)
	assert.NotEmpty(t, data.URL)
}

func TestBillingHandler_SubscriptionStatus(t *testing.T) {
	s := newTestServer()
	token, _ := s.register(t, "alice", "alice@example.com")

	w := s.do(t, http.MethodGet, "/api/payment/subscription/status", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"hasSubscription":false,"status":null,"cancelAtPeriodEnd":false}}`, w.Body.String())

	seedSubscription(t, s.billing, 1, "sub_live")
	w = s.do(t, http.MethodGet, "/api/payment/subscription/status", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		HasSubscription bool   `json:"hasSubscription"`
		Status          string `json:"status"`
		PriceID         string `json:"priceId"`
	}
	decodeData(t, w, &data)
	assert.True(t, data.HasSubscription)
	assert.Equal(t, "active", data.Status)
	assert.Equal(t, "price_basic", data.PriceID)
}

func TestBillingHandler_PaymentHistory(t *testing.T) {
	s := newTestServer()
	token, _ := s.register(t, "alice", "alice@example.com")

	w := s.do(t, http.MethodGet, "/api/payment/payments/history", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"payments":[]}}`, w.Body.String())
}

func TestBillingHandler_PremiumAccess(t *testing.T) {
	s := newTestServer()
	token, _ := s.register(t, "alice", "alice@example.com")

	w := s.do(t, http.MethodGet, "/api/premium/access", nil, token)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "SUBSCRIPTION_REQUIRED", decode(t, w).Error.Code)

	seedSubscription(t, s.billing, 1, "sub_live")
	w = s.do(t, http.MethodGet, "/api/premium/access", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"access":true,"status":"active"}}`, w.Body.String())
}

func TestWebhookHandler(t *testing.T) {
	s := newTestServer()
	s.register(t, "alice", "alice@example.com")

	object := map[string]interface{}{
		"id":             "cs_1",
		"object":         "checkout.session",
		"customer":       "cus_1",
		"payment_intent": "pi_1",
		"amount_total":   999,
		"currency":       "usd",
		"metadata":       map[string]string{"userId": "1"},
		"subscription": map[string]interface{}{
			"id":                   "sub_1",
			"object":               "subscription",
			"customer":             "cus_1",
			"status":               "active",
			"current_period_start": 1700000000,
			"current_period_end":   1702592000,
			"items": map[string]interface{}{
				"data": []map[string]interface{}{{"price": map[string]string{"id": "price_basic"}}},
			},
		},
	}
	payload, sig, err := gateway.SignTestEvent(testWebhookSecret, "evt_1", domain.EventCheckoutSessionCompleted, object)
	require.NoError(t, err)

	t.Run("bad signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set(StripeSignatureHeader, "t=1,v1=deadbeef")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"Invalid signature"}`, w.Body.String())
		assert.Empty(t, s.billing.Subscriptions())
	})

	t.Run("valid event", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set(StripeSignatureHeader, sig)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, true, body["received"])
		assert.Len(t, s.billing.Subscriptions(), 1)
	})
}

type stubChecker struct{ err error }

func (s stubChecker) HealthCheck(context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	r := gin.New()
	healthy := NewHealthHandler("billing-api", "1.0.0", map[string]HealthChecker{"database": stubChecker{}, "cache": nil})
	failing := NewHealthHandler("billing-api", "1.0.0", map[string]HealthChecker{"redis": stubChecker{err: errors.New("down")}})
	r.GET("/health", healthy.Health)
	r.GET("/ready", healthy.Ready)
	r.GET("/ready-failing", failing.Ready)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"billing-api","version":"1.0.0"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"database":"healthy"}}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready-failing", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"not_ready","checks":{"redis":"unhealthy"}}`, w.Body.String())
}

func seedSubscription(t *testing.T, repo *repository.MemoryBillingRepository, userID int64, stripeID string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, repo.CreateFromCheckout(context.Background(), &domain.Subscription{
		UserID:               userID,
		StripeCustomerID:     "cus_" + stripeID,
		StripeSubscriptionID: stripeID,
		StripePriceID:        "price_basic",
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodStart:   now,
		CurrentPeriodEnd:     now.AddDate(0, 1, 0),
	}, nil))
}
