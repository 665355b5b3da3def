package account

import (
    "fmt"

    "github.com/photogram/photogram_api/internal/apperr"
)

// AuthStatus is the onboarding progress of a user. The set is closed.
type AuthStatus string

const (
    StatusNew          AuthStatus = "NEW"
    StatusCodeVerified AuthStatus = "CODE_VERIFIED"
    StatusPhotoStep    AuthStatus = "PHOTO_STEP"
    StatusDone         AuthStatus = "DONE"
)

// Event is an onboarding step that may advance the status.
type Event string

const (
    EventCodeConfirmed    Event = "code_confirmed"
    EventProfileCompleted Event = "profile_completed"
    EventPhotoUploaded    Event = "photo_uploaded"
)

func (s AuthStatus) rank() int {
    switch s {
    case StatusNew:
        return 0
    case StatusCodeVerified:
        return 1
    case StatusPhotoStep:
        return 2
    case StatusDone:
        return 3
    }
    return -1
}

// Valid reports whether s is a known status.
func (s AuthStatus) Valid() bool { return s.rank() >= 0 }

// Next returns the status reached from current when ev happens. Statuses
// never move backwards; a step that does not apply leaves current unchanged.
func Next(current AuthStatus, ev Event) (AuthStatus, error) {
    if !current.Valid() {
        return current, apperr.Internal(fmt.Errorf("unknown auth status %q", current))
    }
    switch ev {
    case EventCodeConfirmed:
        if current == StatusNew {
            return StatusCodeVerified, nil
        }
        return current, nil
    case EventProfileCompleted:
        if current == StatusNew {
            return current, apperr.ErrIncompleteRegistration.WithMessage("verify your code before completing the profile")
        }
        return StatusDone, nil
    case EventPhotoUploaded:
        switch current {
        case StatusNew:
            return current, apperr.ErrIncompleteRegistration.WithMessage("verify your code before uploading a photo")
        case StatusCodeVerified:
            return StatusPhotoStep, nil
        default:
            return current, nil
        }
    }
    return current, apperr.Internal(fmt.Errorf("unknown auth event %q", ev))
}

// CanLogin reports whether a user in status s may obtain login tokens.
func CanLogin(s AuthStatus) bool {
    return s == StatusDone || s == StatusPhotoStep
}
