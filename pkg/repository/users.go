package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/types"
)

// UserRepository handles user persistence
type UserRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, log *logger.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: log,
	}
}

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, user *types.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO users (id, email, password_hash, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.IsActive,
		user.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return types.NewConflictError(types.ErrCodeDuplicateEmail,
				fmt.Sprintf("email already registered: %s", user.Email))
		}
		return types.NewInternalError(types.ErrCodeInternalError, "failed to create user", err)
	}

	r.logger.WithField("user_id", user.ID).Info("Created user")
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	query := `
		SELECT id, email, password_hash, role, is_active, created_at, last_login
		FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id), id)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	query := `
		SELECT id, email, password_hash, role, is_active, created_at, last_login
		FROM users WHERE email = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email), email)
}

// List returns all users ordered by creation time
func (r *UserRepository) List(ctx context.Context) ([]*types.User, error) {
	query := `
		SELECT id, email, password_hash, role, is_active, created_at, last_login
		FROM users ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to list users", err)
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		var user types.User
		var lastLogin sql.NullTime
		err := rows.Scan(&user.ID, &user.Email, &user.PasswordHash,
			&user.Role, &user.IsActive, &user.CreatedAt, &lastLogin)
		if err != nil {
			return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to scan user", err)
		}
		if lastLogin.Valid {
			user.LastLogin = &lastLogin.Time
		}
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "error iterating user rows", err)
	}

	return users, nil
}

// SetActive enables or disables a user account
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE users SET is_active = $1 WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to update user status", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to get rows affected", err)
	}
	if rows == 0 {
		return types.NewNotFoundError(types.ErrCodeUserNotFound,
			fmt.Sprintf("user not found: %s", id))
	}

	return nil
}

// RecordLogin stamps the user's last login time
func (r *UserRepository) RecordLogin(ctx context.Context, id string) error {
	query := `UPDATE users SET last_login = $1 WHERE id = $2`

	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to record login", err)
	}
	return nil
}

func (r *UserRepository) scanUser(row rowScanner, key string) (*types.User, error) {
	var user types.User
	var lastLogin sql.NullTime

	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash,
		&user.Role, &user.IsActive, &user.CreatedAt, &lastLogin)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewNotFoundError(types.ErrCodeUserNotFound,
				fmt.Sprintf("user not found: %s", key))
		}
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to scan user", err)
	}
	if lastLogin.Valid {
		user.LastLogin = &lastLogin.Time
	}

	return &user, nil
}
