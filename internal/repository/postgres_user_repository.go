package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
	"github.com/prohmpiriya/healthcare-educate/pkg/database"
)

const userColumns = `id, email, username, password_hash, is_admin, refresh_token, created_at, updated_at`

// PostgresUserRepository implements UserRepository using PostgreSQL
type PostgresUserRepository struct {
	db *database.PostgresDB
}

// NewPostgresUserRepository creates a new PostgresUserRepository
func NewPostgresUserRepository(db *database.PostgresDB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

// Create creates a new user
func (r *PostgresUserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (email, username, password_hash, is_admin, refresh_token)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.db.Pool().QueryRow(ctx, query,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.IsAdmin,
		user.RefreshToken,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if constraint, ok := database.UniqueViolation(err); ok {
			if constraint == "users_username_key" {
				return domain.ErrUsernameTaken
			}
			return domain.ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.Pool().QueryRow(ctx, query, id))
}

// GetByEmail retrieves a user by email
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.Pool().QueryRow(ctx, query, email))
}

// FindByEmailOrUsername returns the first user matching email or username, email match first
func (r *PostgresUserRepository) FindByEmailOrUsername(ctx context.Context, email, username string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = $1 OR username = $2
		ORDER BY (email = $1) DESC
		LIMIT 1
	`
	return scanUser(r.db.Pool().QueryRow(ctx, query, email, username))
}

// SetRefreshToken overwrites the stored refresh token
func (r *PostgresUserRepository) SetRefreshToken(ctx context.Context, userID int64, token *string) error {
	query := `UPDATE users SET refresh_token = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.Pool().Exec(ctx, query, userID, token); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// RotateRefreshToken is a row-level compare-and-swap. Under READ COMMITTED a
// concurrent rotation blocks on the row lock, then re-evaluates the WHERE clause
// against the committed value and matches zero rows.
func (r *PostgresUserRepository) RotateRefreshToken(ctx context.Context, userID int64, presented, next string) (bool, error) {
	query := `
		UPDATE users
		SET refresh_token = $3, updated_at = NOW()
		WHERE id = $1 AND refresh_token = $2
	`
	tag, err := r.db.Pool().Exec(ctx, query, userID, presented, next)
	if err != nil {
		return false, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.RefreshToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}
