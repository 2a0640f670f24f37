package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/internal/dto"
	"github.com/prohmpiriya/healthcare-educate/internal/metrics"
	"github.com/prohmpiriya/healthcare-educate/internal/repository"
	"github.com/prohmpiriya/healthcare-educate/pkg/logger"
	"github.com/prohmpiriya/healthcare-educate/pkg/telemetry"
)

const (
	minUsernameLength = 3
	minPasswordLength = 6
	minBcryptCost     = 10
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// AuthServiceConfig holds configuration for AuthService
type AuthServiceConfig struct {
	AccessSecret    string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
	BcryptCost      int
}

// AuthService defines the token lifecycle operations
type AuthService interface {
	// Register creates an account and signs it in
	Register(ctx context.Context, req *dto.RegisterRequest) (*dto.AuthResponse, error)
	// Login verifies credentials and replaces the stored refresh token
	Login(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error)
	// Refresh rotates a refresh token; each refresh token is usable once
	Refresh(ctx context.Context, refreshToken string) (*dto.TokenResponse, error)
	// Logout revokes the stored refresh token; idempotent
	Logout(ctx context.Context, userID int64) error
	// VerifyAccess validates an access token without touching storage
	VerifyAccess(ctx context.Context, accessToken string) (*domain.Claims, error)
	// GetProfile returns the public view of an account
	GetProfile(ctx context.Context, userID int64) (*dto.UserResponse, error)
	// IssuePair signs a new access/refresh pair for claims
	IssuePair(claims domain.Claims) (*domain.TokenPair, error)
}

type authService struct {
	userRepo repository.UserRepository
	tokens   *tokenIssuer
	config   *AuthServiceConfig

	dummyHashOnce sync.Once
	dummyHash     []byte
}

// NewAuthService creates a new AuthService
func NewAuthService(userRepo repository.UserRepository, config *AuthServiceConfig) AuthService {
	if config.BcryptCost < minBcryptCost {
		config.BcryptCost = minBcryptCost
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 15 * time.Minute
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	return &authService{
		userRepo: userRepo,
		config:   config,
		tokens: &tokenIssuer{
			accessSecret:  []byte(config.AccessSecret),
			refreshSecret: []byte(config.RefreshSecret),
			accessTTL:     config.AccessTokenTTL,
			refreshTTL:    config.RefreshTokenTTL,
			issuer:        config.Issuer,
			now:           time.Now,
		},
	}
}

// Register creates an account and signs it in
func (s *authService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.AuthResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.register")
	defer span.End()

	email := normalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)

	if err := validateRegistration(username, email, req.Password); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		metrics.RecordAuthAttempt(ctx, "register", "invalid")
		return nil, err
	}

	existing, err := s.userRepo.FindByEmailOrUsername(ctx, email, username)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		span.SetStatus(codes.Error, "user exists")
		metrics.RecordAuthAttempt(ctx, "register", "conflict")
		if existing.Email == email {
			return nil, domain.ErrEmailTaken
		}
		return nil, domain.ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BcryptCost)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) || errors.Is(err, domain.ErrUsernameTaken) {
			span.SetStatus(codes.Error, "user exists")
			metrics.RecordAuthAttempt(ctx, "register", "conflict")
			return nil, err
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("create user: %w", err)
	}

	span.SetAttributes(attribute.Int64("user_id", user.ID))

	pair, err := s.signIn(ctx, user)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	logger.Get().WithContext(ctx).Info("User registered", zap.Int64("user_id", user.ID))
	metrics.RecordAuthAttempt(ctx, "register", "success")
	span.SetStatus(codes.Ok, "")
	return authResponse(user, pair), nil
}

// Login verifies credentials and replaces the stored refresh token
func (s *authService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.login")
	defer span.End()

	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		// Same bcrypt work as a real mismatch so response time does not reveal the account.
		_ = bcrypt.CompareHashAndPassword(s.getDummyHash(), []byte(req.Password))
		span.SetStatus(codes.Error, "invalid credentials")
		metrics.RecordAuthAttempt(ctx, "login", "invalid_credentials")
		return nil, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		span.SetStatus(codes.Error, "invalid credentials")
		metrics.RecordAuthAttempt(ctx, "login", "invalid_credentials")
		return nil, domain.ErrInvalidCredentials
	}

	span.SetAttributes(attribute.Int64("user_id", user.ID))

	pair, err := s.signIn(ctx, user)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	metrics.RecordAuthAttempt(ctx, "login", "success")
	span.SetStatus(codes.Ok, "")
	return authResponse(user, pair), nil
}

// Refresh rotates a refresh token with a compare-and-swap on the stored value
func (s *authService) Refresh(ctx context.Context, refreshToken string) (*dto.TokenResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.refresh")
	defer span.End()

	claims, err := s.tokens.verifyRefresh(refreshToken)
	if err != nil {
		span.SetStatus(codes.Error, "invalid refresh token")
		metrics.RecordTokenRefresh(ctx, "invalid")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user_id", claims.UserID))

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		span.SetStatus(codes.Error, "user not found")
		metrics.RecordTokenRefresh(ctx, "invalid")
		return nil, domain.ErrInvalidToken
	}
	if user.RefreshToken == nil || *user.RefreshToken != refreshToken {
		span.SetStatus(codes.Error, "refresh token revoked")
		metrics.RecordTokenRefresh(ctx, "revoked")
		return nil, domain.ErrTokenRevoked
	}

	pair, err := s.tokens.issuePair(domain.ClaimsFor(user))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	rotated, err := s.userRepo.RotateRefreshToken(ctx, user.ID, refreshToken, pair.RefreshToken)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !rotated {
		span.SetStatus(codes.Error, "refresh token already rotated")
		metrics.RecordTokenRefresh(ctx, "lost_race")
		return nil, domain.ErrTokenRevoked
	}

	metrics.RecordTokenRefresh(ctx, "rotated")
	span.SetStatus(codes.Ok, "")
	return &dto.TokenResponse{
		AccessToken:           pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
	}, nil
}

// Logout clears the stored refresh token
func (s *authService) Logout(ctx context.Context, userID int64) error {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.logout")
	defer span.End()

	span.SetAttributes(attribute.Int64("user_id", userID))

	if err := s.userRepo.SetRefreshToken(ctx, userID, nil); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("clear refresh token: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// VerifyAccess validates an access token
func (s *authService) VerifyAccess(ctx context.Context, accessToken string) (*domain.Claims, error) {
	return s.tokens.verifyAccess(accessToken)
}

// GetProfile returns the public view of an account
func (s *authService) GetProfile(ctx context.Context, userID int64) (*dto.UserResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.get_profile")
	defer span.End()

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		span.SetStatus(codes.Error, "user not found")
		return nil, domain.ErrUserNotFound
	}
	return dto.FromUser(user), nil
}

// IssuePair signs a new token pair
func (s *authService) IssuePair(claims domain.Claims) (*domain.TokenPair, error) {
	return s.tokens.issuePair(claims)
}

// signIn issues a pair and stores its refresh token, replacing any previous one
func (s *authService) signIn(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	pair, err := s.tokens.issuePair(domain.ClaimsFor(user))
	if err != nil {
		return nil, err
	}
	if err := s.userRepo.SetRefreshToken(ctx, user.ID, &pair.RefreshToken); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

func (s *authService) getDummyHash() []byte {
	s.dummyHashOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.config.BcryptCost)
	})
	return s.dummyHash
}

func authResponse(user *domain.User, pair *domain.TokenPair) *dto.AuthResponse {
	return &dto.AuthResponse{
		User:                  dto.FromUser(user),
		AccessToken:           pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(username, email, password string) error {
	if utf8.RuneCountInString(username) < minUsernameLength {
		return domain.NewValidationError("username", fmt.Sprintf("Username must be at least %d characters", minUsernameLength))
	}
	if !emailPattern.MatchString(email) {
		return domain.NewValidationError("email", "Invalid email address")
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return domain.NewValidationError("password", fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}
	return nil
}
