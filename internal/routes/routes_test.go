package routes

import (
    "bytes"
    "context"
    "encoding/json"
    "io"
    "mime/multipart"
    "net/http"
    "net/http/httptest"
    "regexp"
    "strings"
    "sync"
    "testing"
    "time"

    miniredis "github.com/alicebob/miniredis/v2"
    "github.com/gofiber/fiber/v2"
    "github.com/redis/go-redis/v9"

    "github.com/photogram/photogram_api/internal/config"
    "github.com/photogram/photogram_api/internal/logging"
    "github.com/photogram/photogram_api/internal/notification"
    "github.com/photogram/photogram_api/internal/response"
    "github.com/photogram/photogram_api/internal/storage"
)

// testPhone is a valid Uzbek number whose carrier prefix (90) is outside the
// national login pattern, so phone logins exercise the telephony fallback.
const testPhone = "+998901234567"

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

type outbox struct {
    mu       sync.Mutex
    messages []notification.Message
}

func (o *outbox) Send(_ context.Context, msg notification.Message) error {
    o.mu.Lock()
    defer o.mu.Unlock()
    o.messages = append(o.messages, msg)
    return nil
}

func (o *outbox) lastCode(t *testing.T) string {
    t.Helper()
    o.mu.Lock()
    defer o.mu.Unlock()
    if len(o.messages) == 0 {
        t.Fatalf("no message sent")
    }
    m := codePattern.FindStringSubmatch(o.messages[len(o.messages)-1].Body)
    if len(m) != 2 {
        t.Fatalf("no code in message")
    }
    return m[1]
}

type envelope struct {
    Success bool           `json:"success"`
    Message string         `json:"message"`
    Code    string         `json:"code"`
    Data    map[string]any `json:"data"`
}

func setupApp(t *testing.T, opts ...func(*config.Config)) (*fiber.App, *outbox) {
    t.Helper()
    mr, err := miniredis.Run()
    if err != nil {
        t.Fatalf("start miniredis: %v", err)
    }
    cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() {
        cache.Close()
        mr.Close()
    })

    logger := logging.Discard()
    app := fiber.New(fiber.Config{ErrorHandler: response.ErrorHandler(logger)})
    box := &outbox{}
    cfg := config.Config{
        AppEnv:          "test",
        JWTSecret:       "access-secret",
        RefreshSecret:   "refresh-secret",
        AccessTokenTTL:  time.Hour,
        RefreshTokenTTL: 24 * time.Hour,
        IdempotencyTTL:  time.Minute,
        CodeTTL:         5 * time.Minute,
        CodeLength:      6,
        CodeMaxAttempts: 5,
        LoginRatePerMin: 5,
        ResetRatePerMin: 5,
        PhoneRegion:     "UZ",
    }
    for _, opt := range opts {
        opt(&cfg)
    }
    bg, err := Setup(app, Deps{
        Cfg:      cfg,
        Cache:    cache,
        Logger:   logger,
        Notifier: box,
        Photos:   storage.NewDiskStore(t.TempDir(), "/media"),
    })
    if err != nil {
        t.Fatalf("setup: %v", err)
    }
    t.Cleanup(bg.Close)
    return app, box
}

func call(t *testing.T, app *fiber.App, method, path, token string, body any) (int, envelope) {
    t.Helper()
    var reader io.Reader
    if body != nil {
        raw, err := json.Marshal(body)
        if err != nil {
            t.Fatalf("encode body: %v", err)
        }
        reader = bytes.NewReader(raw)
    }
    req := httptest.NewRequest(method, path, reader)
    req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
    if token != "" {
        req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
    }
    return do(t, app, req)
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, envelope) {
    t.Helper()
    resp, err := app.Test(req, -1)
    if err != nil {
        t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
    }
    defer resp.Body.Close()
    var env envelope
    raw, _ := io.ReadAll(resp.Body)
    if len(raw) > 0 {
        _ = json.Unmarshal(raw, &env)
    }
    return resp.StatusCode, env
}

func str(t *testing.T, env envelope, key string) string {
    t.Helper()
    v, _ := env.Data[key].(string)
    if v == "" {
        t.Fatalf("missing %q in response data %v", key, env.Data)
    }
    return v
}

func TestOnboardingFlowOverHTTP(t *testing.T) {
    app, box := setupApp(t)
    const users = "/api/v1/users"

    status, env := call(t, app, fiber.MethodPost, users+"/signup", "", fiber.Map{"email_phone_number": testPhone})
    if status != http.StatusCreated || !env.Success {
        t.Fatalf("signup: status %d body %+v", status, env)
    }
    if env.Data["auth_status"] != "NEW" {
        t.Fatalf("expected NEW, got %v", env.Data["auth_status"])
    }
    access := str(t, env, "access")

    status, env = call(t, app, fiber.MethodPost, users+"/signup", "", fiber.Map{"email_phone_number": testPhone})
    if status != http.StatusConflict || env.Code != "duplicate_identifier" {
        t.Fatalf("duplicate signup: status %d body %+v", status, env)
    }

    status, env = call(t, app, fiber.MethodPost, users+"/login", "", fiber.Map{"userinput": testPhone, "password": "whatever1"})
    if status != http.StatusForbidden || env.Code != "incomplete_registration" {
        t.Fatalf("early login: status %d body %+v", status, env)
    }

    status, env = call(t, app, fiber.MethodGet, users+"/verify/resend", access, nil)
    if status != http.StatusBadRequest || env.Code != "code_still_valid" {
        t.Fatalf("resend: status %d body %+v", status, env)
    }

    status, env = call(t, app, fiber.MethodPost, users+"/verify", access, fiber.Map{"code": box.lastCode(t)})
    if status != http.StatusOK || env.Data["auth_status"] != "CODE_VERIFIED" {
        t.Fatalf("verify: status %d body %+v", status, env)
    }

    status, env = call(t, app, fiber.MethodPut, users+"/change", access, fiber.Map{
        "first_name":       "Alisher",
        "last_name":        "Navoiy",
        "username":         "alisher_n",
        "password":         "s3cret-pass",
        "confirm_password": "s3cret-pass",
    })
    if status != http.StatusOK || env.Data["auth_status"] != "DONE" {
        t.Fatalf("change: status %d body %+v", status, env)
    }

    status, env = call(t, app, fiber.MethodPost, users+"/login", "", fiber.Map{"userinput": "alisher_n", "password": "s3cret-pass"})
    if status != http.StatusOK {
        t.Fatalf("login: status %d body %+v", status, env)
    }
    access = str(t, env, "access")
    refresh := str(t, env, "refresh")

    status, env = call(t, app, fiber.MethodPost, users+"/login/refresh", "", fiber.Map{"refresh": refresh})
    if status != http.StatusOK || str(t, env, "access") == "" {
        t.Fatalf("refresh: status %d body %+v", status, env)
    }

    status, _ = call(t, app, fiber.MethodPost, users+"/logout", access, fiber.Map{"refresh": refresh})
    if status != http.StatusResetContent {
        t.Fatalf("logout: status %d", status)
    }

    status, env = call(t, app, fiber.MethodPost, users+"/login/refresh", "", fiber.Map{"refresh": refresh})
    if status != http.StatusUnauthorized || env.Code != "token_revoked" {
        t.Fatalf("refresh after logout: status %d body %+v", status, env)
    }

    status, env = call(t, app, fiber.MethodGet, users+"/me", access, nil)
    if status != http.StatusOK || env.Data["username"] != "alisher_n" {
        t.Fatalf("me: status %d body %+v", status, env)
    }
}

func TestPhotoUploadOverHTTP(t *testing.T) {
    app, box := setupApp(t)
    const users = "/api/v1/users"

    _, env := call(t, app, fiber.MethodPost, users+"/signup", "", fiber.Map{"email_phone_number": "carol@example.com"})
    access := str(t, env, "access")
    if status, env := call(t, app, fiber.MethodPost, users+"/verify", access, fiber.Map{"code": box.lastCode(t)}); status != http.StatusOK {
        t.Fatalf("verify: status %d body %+v", status, env)
    }

    var buf bytes.Buffer
    mw := multipart.NewWriter(&buf)
    part, err := mw.CreateFormFile("photo", "avatar.jpg")
    if err != nil {
        t.Fatalf("create form file: %v", err)
    }
    _, _ = part.Write([]byte("jpeg-bytes"))
    _ = mw.Close()

    req := httptest.NewRequest(fiber.MethodPut, users+"/change/photo", &buf)
    req.Header.Set(fiber.HeaderContentType, mw.FormDataContentType())
    req.Header.Set(fiber.HeaderAuthorization, "Bearer "+access)
    status, env := do(t, app, req)
    if status != http.StatusOK || env.Data["auth_status"] != "PHOTO_STEP" {
        t.Fatalf("photo: status %d body %+v", status, env)
    }
    photo, _ := env.Data["photo"].(string)
    if !strings.HasPrefix(photo, "/media/users/") || !strings.HasSuffix(photo, ".jpg") {
        t.Fatalf("unexpected photo location %q", photo)
    }

    resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, photo, nil), -1)
    if err != nil || resp.StatusCode != http.StatusOK {
        t.Fatalf("fetch photo: %v %v", resp, err)
    }
    if resp.Header.Get(fiber.HeaderXContentTypeOptions) != "nosniff" || resp.Header.Get(fiber.HeaderContentSecurityPolicy) == "" {
        t.Fatalf("media served without hardening headers: %v", resp.Header)
    }
}

func TestSVGPhotoIsServedAsAttachment(t *testing.T) {
    app, box := setupApp(t)
    const users = "/api/v1/users"

    _, env := call(t, app, fiber.MethodPost, users+"/signup", "", fiber.Map{"email_phone_number": "erin@example.com"})
    access := str(t, env, "access")
    if status, env := call(t, app, fiber.MethodPost, users+"/verify", access, fiber.Map{"code": box.lastCode(t)}); status != http.StatusOK {
        t.Fatalf("verify: status %d body %+v", status, env)
    }

    status, env := uploadPhoto(t, app, access, "logo.svg", `<svg xmlns="http://www.w3.org/2000/svg"><script>alert(document.cookie)</script></svg>`)
    if status != http.StatusOK {
        t.Fatalf("photo: status %d body %+v", status, env)
    }
    photo := str(t, env, "photo")

    resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, photo, nil), -1)
    if err != nil || resp.StatusCode != http.StatusOK {
        t.Fatalf("fetch photo: %v %v", resp, err)
    }
    if got := resp.Header.Get(fiber.HeaderContentDisposition); got != "attachment" {
        t.Fatalf("svg must download, got Content-Disposition %q", got)
    }
    if csp := resp.Header.Get(fiber.HeaderContentSecurityPolicy); !strings.Contains(csp, "sandbox") {
        t.Fatalf("svg must be sandboxed, got %q", csp)
    }
}

func TestProfileStepsRequireConfirmedCode(t *testing.T) {
    app, _ := setupApp(t)
    const users = "/api/v1/users"

    _, env := call(t, app, fiber.MethodPost, users+"/signup", "", fiber.Map{"email_phone_number": "frank@example.com"})
    access := str(t, env, "access")

    status, env := uploadPhoto(t, app, access, "avatar.jpg", "jpeg-bytes")
    if status != http.StatusForbidden || env.Code != "incomplete_registration" {
        t.Fatalf("photo before verify: status %d body %+v", status, env)
    }

    status, env = call(t, app, fiber.MethodPut, users+"/change", access, fiber.Map{
        "first_name":       "Frank",
        "last_name":        "Ocean",
        "username":         "frank_o",
        "password":         "s3cret-pass",
        "confirm_password": "s3cret-pass",
    })
    if status != http.StatusForbidden || env.Code != "incomplete_registration" {
        t.Fatalf("change before verify: status %d body %+v", status, env)
    }
}

// resetFixture signs up a verified email user and requests a reset code.
func resetFixture(t *testing.T, app *fiber.App, box *outbox, email string) string {
    t.Helper()
    const users = "/api/v1/users"
    _, env := call(t, app, fiber.MethodPost, users+"/signup", "", fiber.Map{"email_phone_number": email})
    access := str(t, env, "access")
    if status, env := call(t, app, fiber.MethodPost, users+"/verify", access, fiber.Map{"code": box.lastCode(t)}); status != http.StatusOK {
        t.Fatalf("verify: status %d body %+v", status, env)
    }
    if status, env := call(t, app, fiber.MethodPost, users+"/forget/password", "", fiber.Map{"email_or_phone": email}); status != http.StatusOK {
        t.Fatalf("forget: status %d body %+v", status, env)
    }
    return box.lastCode(t)
}

func wrongCode(code string) string {
    if code == "000000" {
        return "111111"
    }
    return "000000"
}

func TestPasswordResetIsRateLimited(t *testing.T) {
    app, box := setupApp(t)
    code := resetFixture(t, app, box, "grace@example.com")

    reset := func(email, value string) (int, envelope) {
        return call(t, app, fiber.MethodPut, "/api/v1/users/reset/password", "", fiber.Map{
            "email_or_phone":   email,
            "code":             value,
            "password":         "n3w-s3cret",
            "confirm_password": "n3w-s3cret",
        })
    }

    // forget used one of the five requests allowed per minute
    for i := 0; i < 4; i++ {
        if status, env := reset("grace@example.com", wrongCode(code)); status != http.StatusBadRequest {
            t.Fatalf("wrong code %d: status %d body %+v", i, status, env)
        }
    }
    if status, _ := reset(" Grace@Example.com ", wrongCode(code)); status != http.StatusTooManyRequests {
        t.Fatalf("expected 429 once the limit is spent, got %d", status)
    }
    if status, _ := reset("grace@example.com", code); status != http.StatusTooManyRequests {
        t.Fatalf("expected the right code to be throttled too, got %d", status)
    }
}

func TestPasswordResetCodeLocksAfterWrongGuesses(t *testing.T) {
    app, box := setupApp(t, func(c *config.Config) { c.ResetRatePerMin = 100 })
    code := resetFixture(t, app, box, "heidi@example.com")

    body := func(value string) fiber.Map {
        return fiber.Map{
            "email_or_phone":   "heidi@example.com",
            "code":             value,
            "password":         "n3w-s3cret",
            "confirm_password": "n3w-s3cret",
        }
    }
    for i := 0; i < 5; i++ {
        call(t, app, fiber.MethodPut, "/api/v1/users/reset/password", "", body(wrongCode(code)))
    }
    status, env := call(t, app, fiber.MethodPut, "/api/v1/users/reset/password", "", body(code))
    if status != http.StatusBadRequest || env.Code != "code_invalid_or_expired" {
        t.Fatalf("expected locked code, got %d %+v", status, env)
    }

    status, env = call(t, app, fiber.MethodPost, "/api/v1/users/login", "", fiber.Map{"userinput": "heidi@example.com", "password": "n3w-s3cret"})
    if status == http.StatusOK {
        t.Fatalf("password must not change after lockout: %+v", env)
    }
}

func uploadPhoto(t *testing.T, app *fiber.App, token, filename, content string) (int, envelope) {
    t.Helper()
    var buf bytes.Buffer
    mw := multipart.NewWriter(&buf)
    part, err := mw.CreateFormFile("photo", filename)
    if err != nil {
        t.Fatalf("create form file: %v", err)
    }
    _, _ = part.Write([]byte(content))
    _ = mw.Close()

    req := httptest.NewRequest(fiber.MethodPut, "/api/v1/users/change/photo", &buf)
    req.Header.Set(fiber.HeaderContentType, mw.FormDataContentType())
    req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
    return do(t, app, req)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
    app, _ := setupApp(t)

    status, env := call(t, app, fiber.MethodGet, "/api/v1/users/me", "", nil)
    if status != http.StatusUnauthorized || env.Success {
        t.Fatalf("expected 401 envelope, got %d %+v", status, env)
    }

    status, _ = call(t, app, fiber.MethodGet, "/api/v1/users/me", "garbage", nil)
    if status != http.StatusUnauthorized {
        t.Fatalf("expected 401 for bad token, got %d", status)
    }
}

func TestLoginIsRateLimited(t *testing.T) {
    app, _ := setupApp(t)

    var status int
    for i := 0; i < 6; i++ {
        status, _ = call(t, app, fiber.MethodPost, "/api/v1/users/login", "", fiber.Map{"userinput": "nobody_here", "password": "s3cret-pass"})
    }
    if status != http.StatusTooManyRequests {
        t.Fatalf("expected 429 after limit, got %d", status)
    }
}

func TestMetricsAndHealth(t *testing.T) {
    app, _ := setupApp(t)

    resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil), -1)
    if err != nil || resp.StatusCode != http.StatusOK {
        t.Fatalf("healthz: %v %v", resp, err)
    }

    resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/readyz", nil), -1)
    if err != nil || resp.StatusCode != http.StatusOK {
        t.Fatalf("readyz: %v %v", resp, err)
    }

    call(t, app, fiber.MethodPost, "/api/v1/users/login", "", fiber.Map{"userinput": "nobody_here", "password": "x"})

    resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
    if err != nil || resp.StatusCode != http.StatusOK {
        t.Fatalf("metrics: %v %v", resp, err)
    }
    body, _ := io.ReadAll(resp.Body)
    if !strings.Contains(string(body), "photogram_logins_total") {
        t.Fatalf("metrics output missing login counter")
    }
}
