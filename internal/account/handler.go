package account

import (
    "errors"
    "net/http"
    "time"

    "github.com/gofiber/fiber/v2"

    "github.com/photogram/photogram_api/internal/apperr"
    "github.com/photogram/photogram_api/internal/auth"
    "github.com/photogram/photogram_api/internal/response"
)

// Handler exposes account endpoints.
type Handler struct {
    service *Service
}

// NewHandler constructs an account HTTP handler.
func NewHandler(service *Service) *Handler {
    return &Handler{service: service}
}

type userView struct {
    ID         string     `json:"id"`
    Email      string     `json:"email,omitempty"`
    Phone      string     `json:"phone_number,omitempty"`
    Username   string     `json:"username"`
    FirstName  string     `json:"first_name,omitempty"`
    LastName   string     `json:"last_name,omitempty"`
    Photo      string     `json:"photo,omitempty"`
    AuthType   AuthType   `json:"auth_type"`
    AuthStatus AuthStatus `json:"auth_status"`
    LastLogin  *time.Time `json:"last_login,omitempty"`
}

func viewOf(u User) userView {
    return userView{
        ID:         u.ID,
        Email:      u.Email,
        Phone:      u.Phone,
        Username:   u.Username,
        FirstName:  u.FirstName,
        LastName:   u.LastName,
        Photo:      u.Photo,
        AuthType:   u.AuthType,
        AuthStatus: u.AuthStatus,
        LastLogin:  u.LastLogin,
    }
}

type sessionView struct {
    userView
    auth.TokenPair
}

func currentUser(c *fiber.Ctx) (string, error) {
    id, _ := c.Locals(auth.LocalUserID).(string)
    if id == "" {
        return "", apperr.ErrTokenInvalid
    }
    return id, nil
}

func parse(c *fiber.Ctx, out any) error {
    if err := c.BodyParser(out); err != nil {
        return apperr.Validation("malformed request body", err)
    }
    return nil
}

// SignUp handles POST /signup.
func (h *Handler) SignUp(c *fiber.Ctx) error {
    var req struct {
        EmailPhoneNumber string `json:"email_phone_number"`
    }
    if err := parse(c, &req); err != nil {
        return err
    }
    session, err := h.service.SignUp(c.UserContext(), req.EmailPhoneNumber)
    if err != nil {
        if errors.Is(err, apperr.ErrDispatchUnavailable) && session.User.ID != "" {
            ae := apperr.As(err)
            return c.Status(http.StatusServiceUnavailable).JSON(response.Envelope{
                Success: false,
                Message: "account created but the verification code could not be sent, request a new one shortly",
                Code:    string(ae.Kind),
                Data:    sessionView{viewOf(session.User), session.Tokens},
            })
        }
        return err
    }
    return response.JSON(c, http.StatusCreated, "verification code sent", sessionView{viewOf(session.User), session.Tokens})
}

// Verify handles POST /verify.
func (h *Handler) Verify(c *fiber.Ctx) error {
    userID, err := currentUser(c)
    if err != nil {
        return err
    }
    var req struct {
        Code string `json:"code"`
    }
    if err := parse(c, &req); err != nil {
        return err
    }
    t, err := h.service.Verify(c.UserContext(), userID, req.Code)
    if err != nil {
        return err
    }
    tokens, err := h.service.IssueTokens(userID)
    if err != nil {
        return err
    }
    return response.JSON(c, http.StatusOK, "code verified", fiber.Map{
        "auth_status": t.To,
        "access":      tokens.AccessToken,
        "refresh":     tokens.RefreshToken,
        "expires_in":  tokens.ExpiresIn,
    })
}

// ResendCode handles GET /verify/resend.
func (h *Handler) ResendCode(c *fiber.Ctx) error {
    userID, err := currentUser(c)
    if err != nil {
        return err
    }
    if err := h.service.ResendCode(c.UserContext(), userID); err != nil {
        return err
    }
    return response.JSON(c, http.StatusOK, "verification code sent again", nil)
}

// CompleteProfile handles PUT|PATCH /change.
func (h *Handler) CompleteProfile(c *fiber.Ctx) error {
    userID, err := currentUser(c)
    if err != nil {
        return err
    }
    var in ProfileInput
    if err := parse(c, &in); err != nil {
        return err
    }
    user, _, err := h.service.CompleteProfile(c.UserContext(), userID, in)
    if err != nil {
        return err
    }
    return response.JSON(c, http.StatusOK, "profile updated", viewOf(user))
}

// UpdatePhoto handles PUT /change/photo with a multipart "photo" field.
func (h *Handler) UpdatePhoto(c *fiber.Ctx) error {
    userID, err := currentUser(c)
    if err != nil {
        return err
    }
    fh, err := c.FormFile("photo")
    if err != nil {
        return apperr.Validation("photo is required", err)
    }
    f, err := fh.Open()
    if err != nil {
        return apperr.Internal(err)
    }
    defer f.Close()
    user, _, err := h.service.UpdatePhoto(c.UserContext(), userID, Photo{
        Filename:    fh.Filename,
        ContentType: fh.Header.Get(fiber.HeaderContentType),
        Body:        f,
    })
    if err != nil {
        return err
    }
    return response.JSON(c, http.StatusOK, "photo updated", viewOf(user))
}

// Login handles POST /login.
func (h *Handler) Login(c *fiber.Ctx) error {
    var req struct {
        UserInput string `json:"userinput"`
        Password  string `json:"password"`
    }
    if err := parse(c, &req); err != nil {
        return err
    }
    session, err := h.service.Login(c.UserContext(), req.UserInput, req.Password)
    if err != nil {
        return err
    }
    return response.JSON(c, http.StatusOK, "logged in", sessionView{viewOf(session.User), session.Tokens})
}

// ForgetPassword handles POST /forget/password.
func (h *Handler) ForgetPassword(c *fiber.Ctx) error {
    var req struct {
        EmailOrPhone string `json:"email_or_phone"`
    }
    if err := parse(c, &req); err != nil {
        return err
    }
    user, err := h.service.ForgetPassword(c.UserContext(), req.EmailOrPhone)
    if err != nil {
        return err
    }
    return response.JSON(c, http.StatusOK, "reset code sent", fiber.Map{"auth_status": user.AuthStatus})
}

// ResetPassword handles PUT|PATCH /reset/password.
func (h *Handler) ResetPassword(c *fiber.Ctx) error {
    var in ResetInput
    if err := parse(c, &in); err != nil {
        return err
    }
    session, err := h.service.ResetPassword(c.UserContext(), in)
    if err != nil {
        return err
    }
    return response.JSON(c, http.StatusOK, "password changed", sessionView{viewOf(session.User), session.Tokens})
}

// Me handles GET /me.
func (h *Handler) Me(c *fiber.Ctx) error {
    userID, err := currentUser(c)
    if err != nil {
        return err
    }
    user, err := h.service.Me(c.UserContext(), userID)
    if err != nil {
        return err
    }
    return response.JSON(c, http.StatusOK, "ok", viewOf(user))
}
