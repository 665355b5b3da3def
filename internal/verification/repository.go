package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/photogram/photogram_api/internal/apperr"
	"github.com/photogram/photogram_api/internal/notification"
)

// Repository persists verification codes. Codes are never deleted.
type Repository interface {
	// CreateIfNoneActive inserts code unless its user already holds an
	// unexpired, unconfirmed code at now, in which case it returns
	// apperr.ErrCodeStillValid.
	CreateIfNoneActive(ctx context.Context, code Code, now time.Time) error
	HasActive(ctx context.Context, userID string, now time.Time) (bool, error)
	// LatestMatching returns the newest unexpired code of the user with the
	// given value, confirmed or not, or apperr.ErrNotFound.
	LatestMatching(ctx context.Context, userID, value string, now time.Time) (Code, error)
	// MarkConfirmed flips is_confirmed, returning apperr.ErrCodeAlreadyUsed
	// when another request confirmed it first.
	MarkConfirmed(ctx context.Context, id string) error
	// RecordMiss counts a wrong submission against the user's active codes
	// and returns the highest resulting count, 0 when none is active.
	RecordMiss(ctx context.Context, userID string, now time.Time) (int, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed code repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateIfNoneActive locks the owning user row so concurrent issues for the
// same user serialise on the check.
func (r *PostgresRepository) CreateIfNoneActive(ctx context.Context, code Code, now time.Time) error {
	userID, err := uuid.Parse(code.UserID)
	if err != nil {
		return apperr.ErrNotFound.Wrap(err)
	}
	codeID, err := uuid.Parse(code.ID)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.ErrNotFound.WithMessage("user not found")
		}
		return fmt.Errorf("lock user: %w", err)
	}

	var active bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (
            SELECT 1 FROM verification_codes
            WHERE user_id = $1 AND is_confirmed = FALSE AND expires_at >= $2)`, userID, now.UTC()).Scan(&active); err != nil {
		return fmt.Errorf("check active code: %w", err)
	}
	if active {
		return apperr.ErrCodeStillValid
	}

	if _, err := tx.Exec(ctx, `INSERT INTO verification_codes (id, user_id, code, channel, expires_at, is_confirmed, created_at)
        VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		codeID, userID, code.Value, string(code.Channel), code.ExpiresAt.UTC(), code.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	return tx.Commit(ctx)
}

// HasActive reports whether the user holds an unexpired, unconfirmed code.
func (r *PostgresRepository) HasActive(ctx context.Context, userID string, now time.Time) (bool, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return false, nil
	}
	var active bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (
        SELECT 1 FROM verification_codes
        WHERE user_id = $1 AND is_confirmed = FALSE AND expires_at >= $2)`, id, now.UTC()).Scan(&active)
	return active, err
}

// LatestMatching fetches the newest unexpired code with the given value.
func (r *PostgresRepository) LatestMatching(ctx context.Context, userID, value string, now time.Time) (Code, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return Code{}, apperr.ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, user_id, code, channel, expires_at, is_confirmed, created_at, failed_attempts
        FROM verification_codes
        WHERE user_id = $1 AND code = $2 AND expires_at >= $3
        ORDER BY created_at DESC
        LIMIT 1`, id, value, now.UTC())
	var (
		codeID  uuid.UUID
		ownerID uuid.UUID
		channel string
		c       Code
	)
	if err := row.Scan(&codeID, &ownerID, &c.Value, &channel, &c.ExpiresAt, &c.IsConfirmed, &c.CreatedAt, &c.FailedAttempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, apperr.ErrNotFound
		}
		return Code{}, err
	}
	c.ID = codeID.String()
	c.UserID = ownerID.String()
	c.Channel = notification.Channel(channel)
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// MarkConfirmed confirms the code only if nobody confirmed it yet.
func (r *PostgresRepository) MarkConfirmed(ctx context.Context, id string) error {
	codeID, err := uuid.Parse(id)
	if err != nil {
		return apperr.ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE verification_codes SET is_confirmed = TRUE WHERE id = $1 AND is_confirmed = FALSE`, codeID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperr.ErrCodeAlreadyUsed
	}
	return nil
}

// RecordMiss increments failed_attempts on every active code of the user.
func (r *PostgresRepository) RecordMiss(ctx context.Context, userID string, now time.Time) (int, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return 0, nil
	}
	var attempts int
	err = r.db.QueryRow(ctx, `WITH missed AS (
            UPDATE verification_codes SET failed_attempts = failed_attempts + 1
            WHERE user_id = $1 AND is_confirmed = FALSE AND expires_at >= $2
            RETURNING failed_attempts)
        SELECT COALESCE(MAX(failed_attempts), 0) FROM missed`, id, now.UTC()).Scan(&attempts)
	return attempts, err
}
