package account

import (
    "context"
    "crypto/rand"
    "encoding/hex"
    "errors"
    "fmt"
    "log/slog"
    "time"

    "github.com/google/uuid"
    "golang.org/x/crypto/bcrypt"

    "github.com/photogram/photogram_api/internal/apperr"
    "github.com/photogram/photogram_api/internal/auth"
    "github.com/photogram/photogram_api/internal/events"
    "github.com/photogram/photogram_api/internal/identifier"
    "github.com/photogram/photogram_api/internal/metrics"
    "github.com/photogram/photogram_api/internal/notification"
    "github.com/photogram/photogram_api/internal/storage"
    "github.com/photogram/photogram_api/internal/verification"
)

// transitionRetries bounds compare-and-set retries when another request
// moved the status concurrently.
const transitionRetries = 3

// Deps bundles the collaborators of the account service.
type Deps struct {
    Repo    Repository
    Codes   *verification.Manager
    Tokens  *auth.Service
    Photos  storage.Store
    Events  events.Sink
    Logger  *slog.Logger
    Metrics *metrics.Metrics
    // PhoneRegion resolves signup phone numbers written without a country
    // prefix, e.g. "UZ".
    PhoneRegion string
}

// Service drives the account lifecycle from signup to login.
type Service struct {
    repo        Repository
    codes       *verification.Manager
    tokens      *auth.Service
    photos      storage.Store
    sink        events.Sink
    logger      *slog.Logger
    metrics     *metrics.Metrics
    phoneRegion string
    now         func() time.Time
}

// NewService creates a new account service.
func NewService(d Deps) *Service {
    logger := d.Logger
    if logger == nil {
        logger = slog.Default()
    }
    return &Service{
        repo:        d.Repo,
        codes:       d.Codes,
        tokens:      d.Tokens,
        photos:      d.Photos,
        sink:        d.Events,
        logger:      logger,
        metrics:     d.Metrics,
        phoneRegion: d.PhoneRegion,
        now:         func() time.Time { return time.Now().UTC() },
    }
}

// SignUp registers a new user for an email or phone and sends the first
// verification code. The returned tokens only let the client finish
// onboarding; login stays gated on the status. When the code cannot be
// queued the session is returned along with apperr.ErrDispatchUnavailable.
func (s *Service) SignUp(ctx context.Context, raw string) (Session, error) {
    id, err := identifier.ClassifyContact(raw, s.phoneRegion)
    if err != nil {
        return Session{}, err
    }
    if _, err := s.findByContact(ctx, id); err == nil {
        return Session{}, apperr.ErrDuplicateIdentifier.WithMessage(fmt.Sprintf("this %s is already in use", id.Kind))
    } else if !errors.Is(err, apperr.ErrNotFound) {
        return Session{}, apperr.Internal(err)
    }

    placeholder, err := randomPasswordHash()
    if err != nil {
        return Session{}, apperr.Internal(err)
    }
    now := s.now()
    user := User{
        ID:           uuid.NewString(),
        Username:     "user-" + uuid.NewString()[:8],
        PasswordHash: placeholder,
        AuthStatus:   StatusNew,
        CreatedAt:    now,
        UpdatedAt:    now,
    }
    if id.Kind == identifier.KindEmail {
        user.Email, user.AuthType = id.Value, AuthTypeEmail
    } else {
        user.Phone, user.AuthType = id.Value, AuthTypePhone
    }
    if err := s.repo.Create(ctx, user); err != nil {
        if errors.Is(err, apperr.ErrDuplicateIdentifier) {
            return Session{}, err
        }
        return Session{}, apperr.Internal(err)
    }
    events.Emit(ctx, s.sink, s.logger, events.Event{
        Type:   events.TypeSignedUp,
        UserID: user.ID,
        Data:   map[string]any{"auth_type": string(user.AuthType)},
    })

    // The account exists even when the code could not be queued, so the
    // session is returned with the dispatch error and the client can resend.
    sendErr := s.sendCode(ctx, user, notification.PurposeActivate)
    if sendErr != nil && !errors.Is(sendErr, apperr.ErrDispatchUnavailable) {
        return Session{}, sendErr
    }

    tokens, err := s.tokens.IssuePair(user.ID)
    if err != nil {
        return Session{}, err
    }
    return Session{User: user, Tokens: tokens}, sendErr
}

// Verify confirms the submitted code and advances NEW users to
// CODE_VERIFIED. Users further along keep their status.
func (s *Service) Verify(ctx context.Context, userID, code string) (Transition, error) {
    user, err := s.repo.FindByID(ctx, userID)
    if err != nil {
        return Transition{}, err
    }
    if _, err := s.codes.Confirm(ctx, user.ID, code); err != nil {
        return Transition{}, err
    }
    return s.advance(ctx, user, EventCodeConfirmed)
}

// ResendCode issues a new code once the previous one expired.
func (s *Service) ResendCode(ctx context.Context, userID string) error {
    user, err := s.repo.FindByID(ctx, userID)
    if err != nil {
        return err
    }
    if err := s.codes.CanReissue(ctx, user.ID); err != nil {
        return err
    }
    return s.sendCode(ctx, user, notification.PurposeActivate)
}

// CompleteProfile stores names, username and password, then moves the user
// to DONE.
func (s *Service) CompleteProfile(ctx context.Context, userID string, in ProfileInput) (User, Transition, error) {
    user, err := s.repo.FindByID(ctx, userID)
    if err != nil {
        return User{}, Transition{}, err
    }
    if _, err := Next(user.AuthStatus, EventProfileCompleted); err != nil {
        return User{}, Transition{}, err
    }
    if err := in.Validate(); err != nil {
        return User{}, Transition{}, err
    }
    if owner, err := s.repo.FindByUsername(ctx, in.Username); err == nil && owner.ID != user.ID {
        return User{}, Transition{}, apperr.ErrDuplicateIdentifier.WithMessage("this username is already taken")
    } else if err != nil && !errors.Is(err, apperr.ErrNotFound) {
        return User{}, Transition{}, apperr.Internal(err)
    }

    hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
    if err != nil {
        return User{}, Transition{}, apperr.Internal(err)
    }
    profile := Profile{FirstName: in.FirstName, LastName: in.LastName, Username: in.Username, PasswordHash: hash}
    if err := s.repo.UpdateProfile(ctx, user.ID, profile); err != nil {
        if errors.Is(err, apperr.ErrDuplicateIdentifier) || errors.Is(err, apperr.ErrNotFound) {
            return User{}, Transition{}, err
        }
        return User{}, Transition{}, apperr.Internal(err)
    }
    user.FirstName, user.LastName, user.Username, user.PasswordHash = in.FirstName, in.LastName, in.Username, hash

    t, err := s.advance(ctx, user, EventProfileCompleted)
    if err != nil {
        return User{}, Transition{}, err
    }
    user.AuthStatus = t.To
    return user, t, nil
}

// UpdatePhoto stores the profile photo and records the PHOTO_STEP.
func (s *Service) UpdatePhoto(ctx context.Context, userID string, photo Photo) (User, Transition, error) {
    user, err := s.repo.FindByID(ctx, userID)
    if err != nil {
        return User{}, Transition{}, err
    }
    if _, err := Next(user.AuthStatus, EventPhotoUploaded); err != nil {
        return User{}, Transition{}, err
    }
    ext, err := validatePhoto(photo)
    if err != nil {
        return User{}, Transition{}, err
    }
    key := fmt.Sprintf("users/%s/%s%s", user.ID, uuid.NewString(), ext)
    location, err := s.photos.Put(ctx, key, photo.ContentType, photo.Body)
    if err != nil {
        return User{}, Transition{}, apperr.Internal(err)
    }
    if err := s.repo.UpdatePhoto(ctx, user.ID, location); err != nil {
        if errors.Is(err, apperr.ErrNotFound) {
            return User{}, Transition{}, err
        }
        return User{}, Transition{}, apperr.Internal(err)
    }
    user.Photo = location

    t, err := s.advance(ctx, user, EventPhotoUploaded)
    if err != nil {
        return User{}, Transition{}, err
    }
    user.AuthStatus = t.To
    return user, t, nil
}

// Login authenticates a username, email or phone with a password. Users who
// have not finished onboarding are refused before the password is checked.
func (s *Service) Login(ctx context.Context, userinput, password string) (Session, error) {
    user, err := s.resolveLogin(ctx, userinput)
    if err != nil {
        if errors.Is(err, apperr.ErrNotFound) {
            s.metrics.Login("failed")
            return Session{}, apperr.ErrAuthenticationFailed
        }
        if errors.Is(err, apperr.ErrInvalidIdentifier) {
            s.metrics.Login("failed")
            return Session{}, err
        }
        return Session{}, apperr.Internal(err)
    }
    if !CanLogin(user.AuthStatus) {
        s.metrics.Login("incomplete")
        return Session{}, apperr.ErrIncompleteRegistration
    }
    if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
        s.metrics.Login("failed")
        return Session{}, apperr.ErrAuthenticationFailed
    }

    tokens, err := s.tokens.IssuePair(user.ID)
    if err != nil {
        return Session{}, err
    }
    now := s.now()
    if err := s.repo.TouchLastLogin(ctx, user.ID, now); err != nil {
        return Session{}, apperr.Internal(err)
    }
    user.LastLogin = &now
    s.metrics.Login("ok")
    events.Emit(ctx, s.sink, s.logger, events.Event{Type: events.TypeLoggedIn, UserID: user.ID})
    return Session{User: user, Tokens: tokens}, nil
}

// ForgetPassword sends a reset code to the given email or phone.
func (s *Service) ForgetPassword(ctx context.Context, emailOrPhone string) (User, error) {
    id, err := identifier.ClassifyContact(emailOrPhone, s.phoneRegion)
    if err != nil {
        return User{}, err
    }
    user, err := s.findByContact(ctx, id)
    if err != nil {
        if errors.Is(err, apperr.ErrNotFound) {
            return User{}, apperr.ErrNotFound.WithMessage("user not found")
        }
        return User{}, apperr.Internal(err)
    }
    channel := notification.ChannelEmail
    if id.Kind == identifier.KindPhone {
        channel = notification.ChannelPhone
    }
    if _, err := s.codes.Issue(ctx, verification.IssueRequest{
        UserID:      user.ID,
        Channel:     channel,
        Destination: id.Value,
        Purpose:     notification.PurposeReset,
    }); err != nil {
        return User{}, err
    }
    return user, nil
}

// ResetPassword consumes a reset code and replaces the password. The auth
// status is left untouched.
func (s *Service) ResetPassword(ctx context.Context, in ResetInput) (Session, error) {
    if err := in.Validate(); err != nil {
        return Session{}, err
    }
    id, err := identifier.ClassifyContact(in.EmailOrPhone, s.phoneRegion)
    if err != nil {
        return Session{}, err
    }
    user, err := s.findByContact(ctx, id)
    if err != nil {
        if errors.Is(err, apperr.ErrNotFound) {
            return Session{}, apperr.ErrNotFound.WithMessage("user not found")
        }
        return Session{}, apperr.Internal(err)
    }
    if _, err := s.codes.Confirm(ctx, user.ID, in.Code); err != nil {
        return Session{}, err
    }
    hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
    if err != nil {
        return Session{}, apperr.Internal(err)
    }
    if err := s.repo.UpdatePassword(ctx, user.ID, hash); err != nil {
        return Session{}, apperr.Internal(err)
    }
    user.PasswordHash = hash
    events.Emit(ctx, s.sink, s.logger, events.Event{Type: events.TypePasswordReset, UserID: user.ID})

    tokens, err := s.tokens.IssuePair(user.ID)
    if err != nil {
        return Session{}, err
    }
    return Session{User: user, Tokens: tokens}, nil
}

// Me returns the current state of a user.
func (s *Service) Me(ctx context.Context, userID string) (User, error) {
    return s.repo.FindByID(ctx, userID)
}

// IssueTokens mints a token pair for an already authenticated user.
func (s *Service) IssueTokens(userID string) (auth.TokenPair, error) {
    return s.tokens.IssuePair(userID)
}

func (s *Service) sendCode(ctx context.Context, user User, purpose notification.Purpose) error {
    _, err := s.codes.Issue(ctx, verification.IssueRequest{
        UserID:      user.ID,
        Channel:     user.AuthType.Channel(),
        Destination: user.Contact(),
        Purpose:     purpose,
    })
    if err != nil {
        return err
    }
    events.Emit(ctx, s.sink, s.logger, events.Event{
        Type:   events.TypeVerificationSent,
        UserID: user.ID,
        Data:   map[string]any{"channel": string(user.AuthType.Channel())},
    })
    return nil
}

// advance applies ev with compare-and-set, re-reading the user when another
// request changed the status in between.
func (s *Service) advance(ctx context.Context, user User, ev Event) (Transition, error) {
    for attempt := 0; attempt < transitionRetries; attempt++ {
        to, err := Next(user.AuthStatus, ev)
        if err != nil {
            return Transition{}, err
        }
        t := Transition{From: user.AuthStatus, To: to}
        if !t.Changed() {
            return t, nil
        }
        ok, err := s.repo.UpdateStatus(ctx, user.ID, t.From, t.To)
        if err != nil {
            return Transition{}, apperr.Internal(err)
        }
        if ok {
            s.metrics.Transition(string(t.From), string(t.To))
            events.Emit(ctx, s.sink, s.logger, events.Event{
                Type:   events.TypeStatusChanged,
                UserID: user.ID,
                Data:   map[string]any{"from": string(t.From), "to": string(t.To), "event": string(ev)},
            })
            return t, nil
        }
        if user, err = s.repo.FindByID(ctx, user.ID); err != nil {
            return Transition{}, err
        }
    }
    return Transition{}, apperr.Internal(fmt.Errorf("status of user %s kept changing", user.ID))
}

func (s *Service) findByContact(ctx context.Context, id identifier.Identifier) (User, error) {
    if id.Kind == identifier.KindPhone {
        return s.repo.FindByPhone(ctx, id.Value)
    }
    return s.repo.FindByEmail(ctx, id.Value)
}

// resolveLogin classifies the login input and fetches the matching user.
// International numbers outside the national pattern are still accepted
// when they are valid telephone numbers.
func (s *Service) resolveLogin(ctx context.Context, userinput string) (User, error) {
    id, err := identifier.Classify(userinput)
    if err != nil {
        contact, cerr := identifier.ClassifyContact(userinput, s.phoneRegion)
        if cerr != nil || contact.Kind != identifier.KindPhone {
            return User{}, err
        }
        id = contact
    }
    switch id.Kind {
    case identifier.KindEmail:
        return s.repo.FindByEmail(ctx, id.Value)
    case identifier.KindPhone:
        return s.repo.FindByPhone(ctx, id.Value)
    default:
        return s.repo.FindByUsername(ctx, id.Value)
    }
}

// randomPasswordHash returns a bcrypt hash of random bytes so the
// placeholder password of a new account can never be guessed.
func randomPasswordHash() ([]byte, error) {
    buf := make([]byte, 24)
    if _, err := rand.Read(buf); err != nil {
        return nil, err
    }
    return bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(buf)), bcrypt.DefaultCost)
}
