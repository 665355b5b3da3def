package middleware

import (
    "context"
    "errors"
    "strings"

    "github.com/gofiber/fiber/v2"

    "github.com/photogram/photogram_api/internal/account"
    "github.com/photogram/photogram_api/internal/apperr"
    "github.com/photogram/photogram_api/internal/auth"
)

// LocalUser holds the account.User loaded for the request.
const LocalUser = "user"

// UserLoader reads the current state of a user.
type UserLoader interface {
    Me(ctx context.Context, userID string) (account.User, error)
}

// JWTAuth validates bearer access tokens and reloads the user on every call,
// so status changes take effect without reissuing tokens.
func JWTAuth(tokens *auth.Service, users UserLoader) fiber.Handler {
    return func(c *fiber.Ctx) error {
        authz := c.Get(fiber.HeaderAuthorization)
        if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
            return apperr.ErrTokenInvalid.WithMessage("missing bearer token")
        }
        tokenStr := strings.TrimSpace(authz[len("Bearer "):])
        claims, err := tokens.ParseAccess(tokenStr)
        if err != nil {
            return err
        }

        user, err := users.Me(c.UserContext(), claims.Subject)
        if err != nil {
            if errors.Is(err, apperr.ErrNotFound) {
                return apperr.ErrTokenInvalid.WithMessage("user no longer exists")
            }
            return err
        }

        c.Locals(auth.LocalUserID, user.ID)
        c.Locals(LocalUser, user)
        return c.Next()
    }
}

// RequireStatus rejects users whose onboarding has not reached one of the
// allowed statuses. It must run after JWTAuth.
func RequireStatus(allowed ...account.AuthStatus) fiber.Handler {
    return func(c *fiber.Ctx) error {
        user, ok := c.Locals(LocalUser).(account.User)
        if !ok {
            return apperr.ErrTokenInvalid
        }
        for _, s := range allowed {
            if user.AuthStatus == s {
                return c.Next()
            }
        }
        return apperr.ErrIncompleteRegistration
    }
}
