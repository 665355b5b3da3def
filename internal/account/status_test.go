package account

import (
    "errors"
    "testing"

    "github.com/photogram/photogram_api/internal/apperr"
)

func TestNextTransitions(t *testing.T) {
    cases := []struct {
        from    AuthStatus
        event   Event
        want    AuthStatus
        wantErr error
    }{
        {StatusNew, EventCodeConfirmed, StatusCodeVerified, nil},
        {StatusCodeVerified, EventCodeConfirmed, StatusCodeVerified, nil},
        {StatusPhotoStep, EventCodeConfirmed, StatusPhotoStep, nil},
        {StatusDone, EventCodeConfirmed, StatusDone, nil},

        {StatusNew, EventProfileCompleted, StatusNew, apperr.ErrIncompleteRegistration},
        {StatusCodeVerified, EventProfileCompleted, StatusDone, nil},
        {StatusPhotoStep, EventProfileCompleted, StatusDone, nil},
        {StatusDone, EventProfileCompleted, StatusDone, nil},

        {StatusNew, EventPhotoUploaded, StatusNew, apperr.ErrIncompleteRegistration},
        {StatusCodeVerified, EventPhotoUploaded, StatusPhotoStep, nil},
        {StatusPhotoStep, EventPhotoUploaded, StatusPhotoStep, nil},
        {StatusDone, EventPhotoUploaded, StatusDone, nil},
    }
    for _, tc := range cases {
        got, err := Next(tc.from, tc.event)
        if tc.wantErr != nil {
            if !errors.Is(err, tc.wantErr) {
                t.Fatalf("%s + %s: expected %v, got %v", tc.from, tc.event, tc.wantErr, err)
            }
            continue
        }
        if err != nil {
            t.Fatalf("%s + %s: unexpected error %v", tc.from, tc.event, err)
        }
        if got != tc.want {
            t.Fatalf("%s + %s: expected %s, got %s", tc.from, tc.event, tc.want, got)
        }
        if got.rank() < tc.from.rank() {
            t.Fatalf("%s + %s moved backwards to %s", tc.from, tc.event, got)
        }
    }
}

func TestNextRejectsUnknownStatus(t *testing.T) {
    if _, err := Next(AuthStatus("BANNED"), EventCodeConfirmed); err == nil {
        t.Fatalf("expected error for unknown status")
    }
    if _, err := Next(StatusNew, Event("teleported")); err == nil {
        t.Fatalf("expected error for unknown event")
    }
}

func TestCanLogin(t *testing.T) {
    allowed := map[AuthStatus]bool{
        StatusNew:          false,
        StatusCodeVerified: false,
        StatusPhotoStep:    true,
        StatusDone:         true,
    }
    for status, want := range allowed {
        if got := CanLogin(status); got != want {
            t.Fatalf("CanLogin(%s) = %v, want %v", status, got, want)
        }
    }
}
