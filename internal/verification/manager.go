// Package verification issues and confirms one-time codes proving control of
// an email address or phone number.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/photogram/photogram_api/internal/apperr"
	"github.com/photogram/photogram_api/internal/metrics"
	"github.com/photogram/photogram_api/internal/notification"
)

const (
	defaultTTL         = 5 * time.Minute
	defaultLength      = 6
	defaultMaxAttempts = 5
)

// Config controls code shape and lifetime.
type Config struct {
	TTL    time.Duration
	Length int
	// MaxAttempts is the number of wrong submissions after which the active
	// code stops being accepted. It stays active, blocking reissue, until it
	// expires.
	MaxAttempts int
}

// Manager owns the code lifecycle: at most one active code per user,
// single-use confirmation and expiry.
type Manager struct {
	repo     Repository
	notifier notification.Notifier
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	generate func(length int) (string, error)
}

// NewManager wires a manager. notifier may be nil, in which case codes are
// persisted but never sent.
func NewManager(repo Repository, notifier notification.Notifier, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Length <= 0 {
		cfg.Length = defaultLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		generate: randomDigits,
	}
}

// WithClock overrides the time source. Intended for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// TTL returns the lifetime of newly issued codes.
func (m *Manager) TTL() time.Duration { return m.cfg.TTL }

// Issue persists a fresh code for the user and hands it to the notifier.
// When the code is stored but cannot be queued, the code is returned along
// with apperr.ErrDispatchUnavailable.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (Code, error) {
	value, err := m.generate(m.cfg.Length)
	if err != nil {
		return Code{}, apperr.Internal(fmt.Errorf("generate code: %w", err))
	}
	now := m.now()
	code := Code{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Value:     value,
		Channel:   req.Channel,
		ExpiresAt: now.Add(m.cfg.TTL),
		CreatedAt: now,
	}
	if err := m.repo.CreateIfNoneActive(ctx, code, now); err != nil {
		if errors.Is(err, apperr.ErrCodeStillValid) || errors.Is(err, apperr.ErrNotFound) {
			return Code{}, err
		}
		return Code{}, apperr.Internal(fmt.Errorf("store code: %w", err))
	}
	m.metrics.CodeIssued(string(req.Channel))

	if m.notifier == nil {
		return code, nil
	}
	msg, err := notification.CodeMessage(req.Channel, req.Destination, value, req.Purpose, m.cfg.TTL)
	if err != nil {
		return code, apperr.Internal(err)
	}
	if err := m.notifier.Send(ctx, msg); err != nil {
		m.logger.Warn("verification code not queued", "user_id", req.UserID, "channel", req.Channel, "error", err)
		return code, apperr.ErrDispatchUnavailable.Wrap(err)
	}
	return code, nil
}

// CanReissue returns apperr.ErrCodeStillValid while the user holds an
// active code.
func (m *Manager) CanReissue(ctx context.Context, userID string) error {
	active, err := m.repo.HasActive(ctx, userID, m.now())
	if err != nil {
		return apperr.Internal(err)
	}
	if active {
		return apperr.ErrCodeStillValid
	}
	return nil
}

// Confirm consumes the user's unexpired code matching submitted. An unknown
// or expired value yields apperr.ErrCodeInvalidOrExpired, and a value that was
// already consumed yields apperr.ErrCodeAlreadyUsed. Every wrong value counts
// against the active code; once MaxAttempts is reached even the right value
// is refused with apperr.ErrCodeInvalidOrExpired.
func (m *Manager) Confirm(ctx context.Context, userID, submitted string) (Code, error) {
	submitted = strings.TrimSpace(submitted)
	if submitted == "" {
		return Code{}, m.miss(ctx, userID)
	}
	code, err := m.repo.LatestMatching(ctx, userID, submitted, m.now())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Code{}, m.miss(ctx, userID)
		}
		return Code{}, apperr.Internal(err)
	}
	if !code.IsConfirmed && code.FailedAttempts >= m.cfg.MaxAttempts {
		m.metrics.CodeConfirmation("locked")
		return Code{}, apperr.ErrCodeInvalidOrExpired
	}
	if code.IsConfirmed {
		m.metrics.CodeConfirmation("reused")
		return Code{}, apperr.ErrCodeAlreadyUsed
	}
	if err := m.repo.MarkConfirmed(ctx, code.ID); err != nil {
		if errors.Is(err, apperr.ErrCodeAlreadyUsed) {
			m.metrics.CodeConfirmation("reused")
			return Code{}, err
		}
		return Code{}, apperr.Internal(err)
	}
	code.IsConfirmed = true
	m.metrics.CodeConfirmation("confirmed")
	return code, nil
}

func (m *Manager) miss(ctx context.Context, userID string) error {
	attempts, err := m.repo.RecordMiss(ctx, userID, m.now())
	if err != nil {
		return apperr.Internal(err)
	}
	if attempts >= m.cfg.MaxAttempts {
		m.metrics.CodeConfirmation("locked")
		if attempts == m.cfg.MaxAttempts {
			m.logger.Warn("verification code locked after failed attempts", "user_id", userID, "attempts", attempts)
		}
	} else {
		m.metrics.CodeConfirmation("invalid")
	}
	return apperr.ErrCodeInvalidOrExpired
}

func randomDigits(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
