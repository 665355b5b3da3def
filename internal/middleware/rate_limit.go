package middleware

import (
    "encoding/json"
    "net/http"
    "strings"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/redis/go-redis/v9"
)

const (
    loginRatePrefix = "rl:login:"
    resetRatePrefix = "rl:reset:"
    rateWindow      = time.Minute
)

// SubjectFunc names who a request is throttled as. An empty subject falls
// back to the client IP.
type SubjectFunc func(c *fiber.Ctx) string

// BodyField reads a string field of the JSON body as the subject. normalise
// may be nil, in which case the value is trimmed and lower-cased.
func BodyField(field string, normalise func(string) string) SubjectFunc {
    if normalise == nil {
        normalise = func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
    }
    return func(c *fiber.Ctx) string {
        var body map[string]any
        if err := json.Unmarshal(c.Body(), &body); err != nil {
            return ""
        }
        v, _ := body[field].(string)
        if strings.TrimSpace(v) == "" {
            return ""
        }
        return normalise(v)
    }
}

// RateLimit allows maxPerMin requests per subject in a fixed one minute
// window kept in Redis under prefix. It is a no-op without Redis and fails
// open on cache errors.
func RateLimit(cache *redis.Client, prefix string, maxPerMin int, subject SubjectFunc, message string) fiber.Handler {
    if maxPerMin <= 0 {
        maxPerMin = 5
    }
    return func(c *fiber.Ctx) error {
        if cache == nil {
            return c.Next()
        }
        who := subject(c)
        if who == "" {
            who = c.IP()
        }
        key := prefix + who
        cnt, err := cache.Incr(c.UserContext(), key).Result()
        if err != nil {
            return c.Next()
        }
        if cnt == 1 {
            cache.Expire(c.UserContext(), key, rateWindow)
        }
        if cnt > int64(maxPerMin) {
            c.Set(fiber.HeaderRetryAfter, "60")
            return fiber.NewError(http.StatusTooManyRequests, message)
        }
        return c.Next()
    }
}

// LoginRateLimit limits login attempts per login identifier, falling back to
// the client IP.
func LoginRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
    return RateLimit(cache, loginRatePrefix, maxPerMin, BodyField("userinput", nil), "too many login attempts, try again later")
}

// ResetRateLimit limits forget and reset password requests per contact so a
// mailed code cannot be guessed by volume. normalise maps the submitted
// email_or_phone to its canonical form.
func ResetRateLimit(cache *redis.Client, maxPerMin int, normalise func(string) string) fiber.Handler {
    return RateLimit(cache, resetRatePrefix, maxPerMin, BodyField("email_or_phone", normalise), "too many password reset attempts, try again later")
}
