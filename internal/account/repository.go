package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/photogram/photogram_api/internal/apperr"
)

const uniqueViolation = "23505"

// Repository persists users. Lookups return apperr.ErrNotFound when no user
// matches.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	// FindByEmail matches case-insensitively.
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByPhone(ctx context.Context, phone string) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	// UpdateStatus moves the user from one status to another only if the
	// stored status still equals from. It reports whether a row changed.
	UpdateStatus(ctx context.Context, id string, from, to AuthStatus) (bool, error)
	UpdateProfile(ctx context.Context, id string, profile Profile) error
	UpdatePhoto(ctx context.Context, id, photo string) error
	UpdatePassword(ctx context.Context, id string, hash []byte) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed user repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, phone, username, first_name, last_name, password_hash, photo,
        auth_type, auth_status, created_at, updated_at, last_login`

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, email, phone, username, first_name, last_name, password_hash,
        photo, auth_type, auth_status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		userID, nullable(user.Email), nullable(user.Phone), user.Username, user.FirstName, user.LastName,
		user.PasswordHash, nullable(user.Photo), string(user.AuthType), string(user.AuthStatus),
		user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	return translate(err)
}

// FindByID fetches a user by primary key.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, apperr.ErrNotFound
	}
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to AuthStatus) (bool, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return false, apperr.ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users SET auth_status = $1, updated_at = now()
        WHERE id = $2 AND auth_status = $3`, string(to), userID, string(from))
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, id string, p Profile) error {
	return r.exec(ctx, id, `UPDATE users SET first_name = $1, last_name = $2, username = $3, password_hash = $4,
        updated_at = now() WHERE id = $5`, p.FirstName, p.LastName, p.Username, p.PasswordHash)
}

func (r *PostgresRepository) UpdatePhoto(ctx context.Context, id, photo string) error {
	return r.exec(ctx, id, `UPDATE users SET photo = $1, updated_at = now() WHERE id = $2`, photo)
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id string, hash []byte) error {
	return r.exec(ctx, id, `UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, hash)
}

func (r *PostgresRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, id, `UPDATE users SET last_login = $1 WHERE id = $2`, at.UTC())
}

// exec runs an update whose last placeholder is the user id.
func (r *PostgresRepository) exec(ctx context.Context, id, sql string, args ...any) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return apperr.ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, sql, append(args, userID)...)
	if err != nil {
		return translate(err)
	}
	if cmd.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) findOne(ctx context.Context, sql string, arg any) (User, error) {
	row := r.db.QueryRow(ctx, sql, arg)
	var (
		id                  uuid.UUID
		email, phone, photo *string
		authType, status    string
		lastLogin           *time.Time
		user                User
	)
	err := row.Scan(&id, &email, &phone, &user.Username, &user.FirstName, &user.LastName, &user.PasswordHash,
		&photo, &authType, &status, &user.CreatedAt, &user.UpdatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, apperr.ErrNotFound
		}
		return User{}, err
	}
	user.ID = id.String()
	user.Email = deref(email)
	user.Phone = deref(phone)
	user.Photo = deref(photo)
	user.AuthType = AuthType(authType)
	user.AuthStatus = AuthStatus(status)
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	if lastLogin != nil {
		t := lastLogin.UTC()
		user.LastLogin = &t
	}
	return user, nil
}

// translate maps unique violations to DuplicateIdentifier.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		field := strings.TrimPrefix(strings.TrimSuffix(pgErr.ConstraintName, "_key"), "users_")
		if field == "" {
			return apperr.ErrDuplicateIdentifier.Wrap(err)
		}
		return apperr.ErrDuplicateIdentifier.WithMessage(field + " already in use").Wrap(err)
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
