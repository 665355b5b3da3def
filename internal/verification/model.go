package verification

import (
	"time"

	"github.com/photogram/photogram_api/internal/notification"
)

// Code is a one-time numeric code proving control of an email or phone.
type Code struct {
	ID          string
	UserID      string
	Value       string
	Channel     notification.Channel
	ExpiresAt   time.Time
	IsConfirmed bool
	CreatedAt   time.Time
	// FailedAttempts counts wrong values submitted while the code was active.
	FailedAttempts int
}

// Active reports whether the code can still be confirmed at now.
func (c Code) Active(now time.Time) bool {
	return !c.IsConfirmed && !now.After(c.ExpiresAt)
}

// IssueRequest describes where a new code must be delivered.
type IssueRequest struct {
	UserID      string
	Channel     notification.Channel
	Destination string
	Purpose     notification.Purpose
}
