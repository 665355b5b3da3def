package routes

import (
    "github.com/gofiber/fiber/v2"

    "github.com/photogram/photogram_api/internal/account"
    "github.com/photogram/photogram_api/internal/auth"
)

// AccountRoutes collects the handlers and guards of the /users group.
type AccountRoutes struct {
    Accounts     *account.Handler
    Auth         *auth.Handler
    RequireAuth  fiber.Handler
    RateLimiter  fiber.Handler
    // ResetLimiter throttles forget and reset password per contact.
    ResetLimiter fiber.Handler
    // Onboarded admits users that have at least confirmed their code.
    Onboarded    fiber.Handler
    // Idempotency is optional and only guards endpoints that send codes.
    Idempotency  fiber.Handler
}

// RegisterAccountRoutes wires signup, verification, onboarding and session
// endpoints.
func RegisterAccountRoutes(r fiber.Router, rt AccountRoutes) {
    group := r.Group("/users")
    h := rt.Accounts

    group.Post("/signup", chain(h.SignUp, rt.Idempotency)...)
    group.Post("/login", chain(h.Login, rt.RateLimiter)...)
    group.Post("/login/refresh", rt.Auth.Refresh)
    group.Post("/forget/password", chain(h.ForgetPassword, rt.ResetLimiter, rt.Idempotency)...)
    group.Put("/reset/password", chain(h.ResetPassword, rt.ResetLimiter)...)
    group.Patch("/reset/password", chain(h.ResetPassword, rt.ResetLimiter)...)

    group.Post("/verify", rt.RequireAuth, h.Verify)
    group.Get("/verify/resend", rt.RequireAuth, h.ResendCode)
    group.Put("/change", chain(h.CompleteProfile, rt.RequireAuth, rt.Onboarded)...)
    group.Patch("/change", chain(h.CompleteProfile, rt.RequireAuth, rt.Onboarded)...)
    group.Put("/change/photo", chain(h.UpdatePhoto, rt.RequireAuth, rt.Onboarded)...)
    group.Post("/logout", rt.RequireAuth, rt.Auth.Logout)
    group.Get("/me", rt.RequireAuth, h.Me)
}

// chain drops nil guards and appends the final handler.
func chain(final fiber.Handler, guards ...fiber.Handler) []fiber.Handler {
    out := make([]fiber.Handler, 0, len(guards)+1)
    for _, g := range guards {
        if g != nil {
            out = append(out, g)
        }
    }
    return append(out, final)
}
