package account

import (
    "context"
    "strings"
    "sync"
    "time"

    "github.com/photogram/photogram_api/internal/apperr"
)

type memoryRepository struct {
    mu    sync.RWMutex
    users map[string]User
}

// NewMemoryRepository builds an in-memory user store for testing.
func NewMemoryRepository() Repository {
    return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    if _, exists := r.users[user.ID]; exists {
        return apperr.ErrDuplicateIdentifier
    }
    for _, u := range r.users {
        if r.clash(u, user) {
            return apperr.ErrDuplicateIdentifier
        }
    }
    r.users[user.ID] = user
    return nil
}

func (r *memoryRepository) clash(a, b User) bool {
    switch {
    case a.Email != "" && strings.EqualFold(a.Email, b.Email):
        return true
    case a.Phone != "" && a.Phone == b.Phone:
        return true
    case a.Username != "" && a.Username == b.Username:
        return true
    }
    return false
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    user, ok := r.users[id]
    if !ok {
        return User{}, apperr.ErrNotFound
    }
    return user, nil
}

func (r *memoryRepository) find(match func(User) bool) (User, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    for _, u := range r.users {
        if match(u) {
            return u, nil
        }
    }
    return User{}, apperr.ErrNotFound
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (User, error) {
    return r.find(func(u User) bool { return u.Email != "" && strings.EqualFold(u.Email, email) })
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (User, error) {
    return r.find(func(u User) bool { return u.Phone != "" && u.Phone == phone })
}

func (r *memoryRepository) FindByUsername(_ context.Context, username string) (User, error) {
    return r.find(func(u User) bool { return u.Username == username })
}

func (r *memoryRepository) UpdateStatus(_ context.Context, id string, from, to AuthStatus) (bool, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    user, ok := r.users[id]
    if !ok {
        return false, apperr.ErrNotFound
    }
    if user.AuthStatus != from {
        return false, nil
    }
    user.AuthStatus = to
    user.UpdatedAt = time.Now().UTC()
    r.users[id] = user
    return true, nil
}

func (r *memoryRepository) update(id string, apply func(*User) error) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    user, ok := r.users[id]
    if !ok {
        return apperr.ErrNotFound
    }
    if err := apply(&user); err != nil {
        return err
    }
    r.users[id] = user
    return nil
}

func (r *memoryRepository) UpdateProfile(_ context.Context, id string, p Profile) error {
    return r.update(id, func(u *User) error {
        for otherID, other := range r.users {
            if otherID != id && other.Username == p.Username {
                return apperr.ErrDuplicateIdentifier.WithMessage("username already in use")
            }
        }
        u.FirstName = p.FirstName
        u.LastName = p.LastName
        u.Username = p.Username
        u.PasswordHash = p.PasswordHash
        u.UpdatedAt = time.Now().UTC()
        return nil
    })
}

func (r *memoryRepository) UpdatePhoto(_ context.Context, id, photo string) error {
    return r.update(id, func(u *User) error {
        u.Photo = photo
        u.UpdatedAt = time.Now().UTC()
        return nil
    })
}

func (r *memoryRepository) UpdatePassword(_ context.Context, id string, hash []byte) error {
    return r.update(id, func(u *User) error {
        u.PasswordHash = hash
        u.UpdatedAt = time.Now().UTC()
        return nil
    })
}

func (r *memoryRepository) TouchLastLogin(_ context.Context, id string, at time.Time) error {
    return r.update(id, func(u *User) error {
        t := at.UTC()
        u.LastLogin = &t
        return nil
    })
}
