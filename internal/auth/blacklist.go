package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const revokedPrefix = "auth:v1:revoked:"

// Blacklist records revoked refresh tokens by jti. Entries are permanent.
type Blacklist interface {
	Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// PostgresBlacklist stores revocations in the token_blacklist table.
type PostgresBlacklist struct {
	db *pgxpool.Pool
}

func NewPostgresBlacklist(db *pgxpool.Pool) *PostgresBlacklist {
	return &PostgresBlacklist{db: db}
}

func (b *PostgresBlacklist) Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(ctx, `INSERT INTO token_blacklist (jti, user_id, revoked_at, expires_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (jti) DO NOTHING`, jti, uid, time.Now().UTC(), expiresAt.UTC())
	return err
}

func (b *PostgresBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := b.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE jti = $1)`, jti).Scan(&revoked)
	return revoked, err
}

// RedisBlacklist keeps one key per revoked jti, without expiry.
type RedisBlacklist struct {
	cache *redis.Client
}

func NewRedisBlacklist(cache *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{cache: cache}
}

func (b *RedisBlacklist) Revoke(ctx context.Context, jti, userID string, _ time.Time) error {
	return b.cache.SetNX(ctx, revokedPrefix+jti, userID, 0).Err()
}

func (b *RedisBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := b.cache.Get(ctx, revokedPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type memoryBlacklist struct {
	mu      sync.RWMutex
	revoked map[string]string
}

// NewMemoryBlacklist builds an in-process blacklist for tests and local runs.
func NewMemoryBlacklist() Blacklist {
	return &memoryBlacklist{revoked: make(map[string]string)}
}

func (b *memoryBlacklist) Revoke(_ context.Context, jti, userID string, _ time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.revoked[jti]; !ok {
		b.revoked[jti] = userID
	}
	return nil
}

func (b *memoryBlacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.revoked[jti]
	return ok, nil
}
