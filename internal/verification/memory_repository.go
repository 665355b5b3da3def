package verification

import (
    "context"
    "sync"
    "time"

    "github.com/photogram/photogram_api/internal/apperr"
)

type memoryRepository struct {
    mu    sync.Mutex
    codes []Code
}

// NewMemoryRepository builds an in-memory code store for tests and local runs.
func NewMemoryRepository() Repository {
    return &memoryRepository{}
}

func (r *memoryRepository) CreateIfNoneActive(_ context.Context, code Code, now time.Time) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    for _, c := range r.codes {
        if c.UserID == code.UserID && c.Active(now) {
            return apperr.ErrCodeStillValid
        }
    }
    r.codes = append(r.codes, code)
    return nil
}

func (r *memoryRepository) HasActive(_ context.Context, userID string, now time.Time) (bool, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    for _, c := range r.codes {
        if c.UserID == userID && c.Active(now) {
            return true, nil
        }
    }
    return false, nil
}

func (r *memoryRepository) LatestMatching(_ context.Context, userID, value string, now time.Time) (Code, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    for i := len(r.codes) - 1; i >= 0; i-- {
        c := r.codes[i]
        if c.UserID == userID && c.Value == value && !now.After(c.ExpiresAt) {
            return c, nil
        }
    }
    return Code{}, apperr.ErrNotFound
}

func (r *memoryRepository) MarkConfirmed(_ context.Context, id string) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    for i := range r.codes {
        if r.codes[i].ID != id {
            continue
        }
        if r.codes[i].IsConfirmed {
            return apperr.ErrCodeAlreadyUsed
        }
        r.codes[i].IsConfirmed = true
        return nil
    }
    return apperr.ErrNotFound
}

func (r *memoryRepository) RecordMiss(_ context.Context, userID string, now time.Time) (int, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    highest := 0
    for i := range r.codes {
        c := &r.codes[i]
        if c.UserID != userID || !c.Active(now) {
            continue
        }
        c.FailedAttempts++
        if c.FailedAttempts > highest {
            highest = c.FailedAttempts
        }
    }
    return highest, nil
}
