package account

import (
    "io"
    "time"

    "github.com/photogram/photogram_api/internal/auth"
    "github.com/photogram/photogram_api/internal/notification"
)

// AuthType is the channel a user signed up with.
type AuthType string

const (
    AuthTypeEmail AuthType = "email"
    AuthTypePhone AuthType = "phone"
)

// Channel returns the notification channel codes are delivered on.
func (t AuthType) Channel() notification.Channel {
    if t == AuthTypePhone {
        return notification.ChannelPhone
    }
    return notification.ChannelEmail
}

// User represents a registered account.
type User struct {
    ID           string
    Email        string
    Phone        string
    Username     string
    FirstName    string
    LastName     string
    PasswordHash []byte
    Photo        string
    AuthType     AuthType
    AuthStatus   AuthStatus
    CreatedAt    time.Time
    UpdatedAt    time.Time
    LastLogin    *time.Time
}

// Contact returns the address verification codes are sent to.
func (u User) Contact() string {
    if u.AuthType == AuthTypePhone {
        return u.Phone
    }
    return u.Email
}

// Profile holds the fields written by profile completion.
type Profile struct {
    FirstName    string
    LastName     string
    Username     string
    PasswordHash []byte
}

// ProfileInput is the client supplied profile completion form.
type ProfileInput struct {
    FirstName       string `json:"first_name"`
    LastName        string `json:"last_name"`
    Username        string `json:"username"`
    Password        string `json:"password"`
    ConfirmPassword string `json:"confirm_password"`
}

// ResetInput is the client supplied password reset form.
type ResetInput struct {
    EmailOrPhone    string `json:"email_or_phone"`
    Code            string `json:"code"`
    Password        string `json:"password"`
    ConfirmPassword string `json:"confirm_password"`
}

// Photo is an uploaded profile picture.
type Photo struct {
    Filename    string
    ContentType string
    Body        io.Reader
}

// Session is a user together with freshly issued tokens.
type Session struct {
    User   User
    Tokens auth.TokenPair
}

// Transition records a status change requested by an onboarding step.
type Transition struct {
    From AuthStatus
    To   AuthStatus
}

// Changed reports whether the step moved the user forward.
func (t Transition) Changed() bool { return t.From != t.To }
