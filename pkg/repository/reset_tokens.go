package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/clinsync/patient-registry/pkg/types"
)

// CreateResetToken stores a single-use password reset token
func (r *UserRepository) CreateResetToken(ctx context.Context, token *types.PasswordResetToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	token.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO password_reset_tokens (id, user_id, token, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.Token,
		token.ExpiresAt,
		token.Used,
		token.CreatedAt,
	)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to create reset token", err)
	}
	return nil
}

// GetResetToken retrieves a reset token by its opaque value
func (r *UserRepository) GetResetToken(ctx context.Context, token string) (*types.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token, expires_at, used, created_at
		FROM password_reset_tokens WHERE token = $1`

	var reset types.PasswordResetToken
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&reset.ID,
		&reset.UserID,
		&reset.Token,
		&reset.ExpiresAt,
		&reset.Used,
		&reset.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewNotFoundError(types.ErrCodeRecordNotFound, "reset token not found")
		}
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to get reset token", err)
	}

	return &reset, nil
}

// MarkResetTokenUsed consumes a reset token so it cannot be replayed
func (r *UserRepository) MarkResetTokenUsed(ctx context.Context, id string) error {
	query := `UPDATE password_reset_tokens SET used = TRUE WHERE id = $1 AND used = FALSE`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to mark reset token used", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to get rows affected", err)
	}
	if rows == 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, "reset token already used", nil)
	}
	return nil
}

// UpdatePassword replaces a user's password hash
func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $1 WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, passwordHash, userID)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to update password", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to get rows affected", err)
	}
	if rows == 0 {
		return types.NewNotFoundError(types.ErrCodeUserNotFound, "user not found")
	}
	return nil
}
