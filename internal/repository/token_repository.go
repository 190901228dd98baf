package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/novadesk/novadesk-api/internal/models"
)

const refreshTokenColumns = `id, user_id, token, expires_at, created_at, revoked, revoked_at, replaced_by, ip_address, user_agent`

const resetTokenColumns = `id, user_id, token, expires_at, used, created_at`

// TokenRepository provides database access for refresh and password-reset
// tokens.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// CreateRefreshToken inserts a refresh token row.
func (r *TokenRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, ip_address, user_agent) VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken looks a refresh token up by its opaque value.
func (r *TokenRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM refresh_tokens WHERE token = $1 LIMIT 1`, refreshTokenColumns)
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a single token revoked, optionally recording the
// identifier of its rotation successor.
func (r *TokenRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time, replacedBy *string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, replaced_by = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt, replacedBy); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every active refresh token held by a user and
// returns the number of tokens affected.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	result, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return affected, nil
}

// CreateResetToken inserts a password-reset token row.
func (r *TokenRepository) CreateResetToken(ctx context.Context, token *models.PasswordResetToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO password_reset_tokens (id, user_id, token, expires_at, used, created_at) VALUES (:id, :user_id, :token, :expires_at, :used, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create reset token: %w", err)
	}
	return nil
}

// FindResetToken looks a reset token up by its opaque value.
func (r *TokenRepository) FindResetToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM password_reset_tokens WHERE token = $1 LIMIT 1`, resetTokenColumns)
	var rt models.PasswordResetToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find reset token: %w", err)
	}
	return &rt, nil
}

// MarkResetTokenUsed burns a reset token so it cannot be redeemed again.
func (r *TokenRepository) MarkResetTokenUsed(ctx context.Context, id string) error {
	const query = `UPDATE password_reset_tokens SET used = TRUE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark reset token used: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every token row belonging to a user. Used when an
// account is deleted.
func (r *TokenRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete refresh tokens: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete reset tokens: %w", err)
	}
	return nil
}

// PurgeExpired deletes refresh and reset tokens that expired before the
// cutoff. Run periodically by the maintenance sweeper.
func (r *TokenRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64

	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		purged += n
	}

	result, err = r.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return purged, fmt.Errorf("purge reset tokens: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		purged += n
	}

	return purged, nil
}
