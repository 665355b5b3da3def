package auth

import (
    "net/http"
    "strings"

    "github.com/gofiber/fiber/v2"

    "github.com/photogram/photogram_api/internal/apperr"
    "github.com/photogram/photogram_api/internal/response"
)

// LocalUserID is the fiber.Ctx locals key holding the authenticated user id.
const LocalUserID = "user_id"

// Handler exposes token refresh and logout.
type Handler struct {
    svc *Service
}

func NewHandler(svc *Service) *Handler {
    return &Handler{svc: svc}
}

type refreshRequest struct {
    Refresh string `json:"refresh"`
}

// Refresh issues a new access token for a valid refresh token.
func (h *Handler) Refresh(c *fiber.Ctx) error {
    var req refreshRequest
    if err := c.BodyParser(&req); err != nil {
        return apperr.Validation("malformed request body", err)
    }
    if strings.TrimSpace(req.Refresh) == "" {
        return apperr.Validation("refresh is required", nil)
    }
    token, err := h.svc.Refresh(c.UserContext(), req.Refresh)
    if err != nil {
        return err
    }
    return response.JSON(c, http.StatusOK, "token refreshed", token)
}

// Logout revokes the caller's refresh token.
func (h *Handler) Logout(c *fiber.Ctx) error {
    userID, _ := c.Locals(LocalUserID).(string)
    if userID == "" {
        return apperr.ErrTokenInvalid
    }
    var req refreshRequest
    if err := c.BodyParser(&req); err != nil {
        return apperr.Validation("malformed request body", err)
    }
    if strings.TrimSpace(req.Refresh) == "" {
        return apperr.Validation("refresh is required", nil)
    }
    if err := h.svc.Revoke(c.UserContext(), userID, req.Refresh); err != nil {
        return err
    }
    return response.JSON(c, http.StatusResetContent, "you are logged out", nil)
}
