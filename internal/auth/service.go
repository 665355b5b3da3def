package auth

import (
    "context"
    "errors"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/google/uuid"

    "github.com/photogram/photogram_api/internal/apperr"
    "github.com/photogram/photogram_api/internal/metrics"
)

// Config holds signing secrets and token lifetimes.
type Config struct {
    AccessSecret  string
    RefreshSecret string
    AccessTTL     time.Duration
    RefreshTTL    time.Duration
}

// Users is the slice of the account store the issuer needs. TouchLastLogin
// must return apperr.ErrNotFound for unknown users.
type Users interface {
    TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// Service issues, refreshes and revokes session tokens.
type Service struct {
    cfg       Config
    users     Users
    blacklist Blacklist
    metrics   *metrics.Metrics
    now       func() time.Time
}

func NewService(cfg Config, users Users, blacklist Blacklist, m *metrics.Metrics) *Service {
    if cfg.AccessTTL <= 0 {
        cfg.AccessTTL = 15 * time.Minute
    }
    if cfg.RefreshTTL <= 0 {
        cfg.RefreshTTL = 30 * 24 * time.Hour
    }
    return &Service{
        cfg:       cfg,
        users:     users,
        blacklist: blacklist,
        metrics:   m,
        now:       func() time.Time { return time.Now().UTC() },
    }
}

// WithClock overrides the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
    s.now = now
    return s
}

type TokenPair struct {
    AccessToken  string `json:"access"`
    RefreshToken string `json:"refresh"`
    ExpiresIn    int64  `json:"expires_in"`
}

type AccessToken struct {
    Token     string `json:"access"`
    ExpiresIn int64  `json:"expires_in"`
}

// IssuePair mints an access and a refresh token for userID.
func (s *Service) IssuePair(userID string) (TokenPair, error) {
    access, err := s.signAccess(userID)
    if err != nil {
        return TokenPair{}, err
    }
    now := s.now()
    refresh, err := sign(Claims{
        Type: TypeRefresh,
        RegisteredClaims: newRegistered(userID, now, s.cfg.RefreshTTL),
    }, []byte(s.cfg.RefreshSecret))
    if err != nil {
        return TokenPair{}, apperr.Internal(err)
    }
    return TokenPair{AccessToken: access.Token, RefreshToken: refresh, ExpiresIn: access.ExpiresIn}, nil
}

// Refresh exchanges a refresh token for a new access token and stamps the
// user's last login. Revocation is checked before expiry so a revoked token
// keeps failing as revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AccessToken, error) {
    claims, err := parse(refreshToken, []byte(s.cfg.RefreshSecret), false, s.now)
    if err != nil || claims.ID == "" || claims.Subject == "" {
        s.metrics.Refresh("invalid")
        return AccessToken{}, apperr.ErrTokenInvalid
    }

    revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
    if err != nil {
        return AccessToken{}, apperr.Internal(err)
    }
    if revoked {
        s.metrics.Refresh("revoked")
        return AccessToken{}, apperr.ErrTokenRevoked
    }

    now := s.now()
    if claims.Type != TypeRefresh || claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
        s.metrics.Refresh("invalid")
        return AccessToken{}, apperr.ErrTokenInvalid
    }

    if err := s.users.TouchLastLogin(ctx, claims.Subject, now); err != nil {
        if errors.Is(err, apperr.ErrNotFound) {
            s.metrics.Refresh("invalid")
            return AccessToken{}, apperr.ErrTokenInvalid
        }
        return AccessToken{}, apperr.Internal(err)
    }

    access, err := s.signAccess(claims.Subject)
    if err != nil {
        return AccessToken{}, err
    }
    s.metrics.Refresh("ok")
    return access, nil
}

// Revoke blacklists a refresh token owned by userID. Revoking twice is not
// an error.
func (s *Service) Revoke(ctx context.Context, userID, refreshToken string) error {
    claims, err := parse(refreshToken, []byte(s.cfg.RefreshSecret), false, s.now)
    if err != nil || claims.Type != TypeRefresh || claims.ID == "" {
        return apperr.ErrTokenInvalid
    }
    if claims.Subject != userID {
        return apperr.ErrTokenInvalid.WithMessage("token does not belong to the current user")
    }
    var exp time.Time
    if claims.ExpiresAt != nil {
        exp = claims.ExpiresAt.Time
    }
    if err := s.blacklist.Revoke(ctx, claims.ID, userID, exp); err != nil {
        return apperr.Internal(err)
    }
    return nil
}

// ParseAccess validates an access token and returns its claims.
func (s *Service) ParseAccess(token string) (*Claims, error) {
    claims, err := parse(token, []byte(s.cfg.AccessSecret), true, s.now)
    if err != nil || claims.Type != TypeAccess || claims.Subject == "" {
        return nil, apperr.ErrTokenInvalid
    }
    return claims, nil
}

func (s *Service) signAccess(userID string) (AccessToken, error) {
    signed, err := sign(Claims{
        Type: TypeAccess,
        RegisteredClaims: newRegistered(userID, s.now(), s.cfg.AccessTTL),
    }, []byte(s.cfg.AccessSecret))
    if err != nil {
        return AccessToken{}, apperr.Internal(err)
    }
    return AccessToken{Token: signed, ExpiresIn: int64(s.cfg.AccessTTL.Seconds())}, nil
}

func newRegistered(userID string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
    return jwt.RegisteredClaims{
        ID:        uuid.NewString(),
        Subject:   userID,
        IssuedAt:  jwt.NewNumericDate(now),
        ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
    }
}
