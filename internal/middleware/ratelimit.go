package middleware

import (
    "context"
    "encoding/json"
    "log/slog"
    "net/http"
    "strings"
    "sync"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/redis/go-redis/v9"
    "golang.org/x/time/rate"

    "github.com/mindwell/auth_engine/internal/identity"
)

// KeyFunc extracts the subject a request is rate limited on. An empty key
// falls back to the client IP.
type KeyFunc func(c *fiber.Ctx) string

// RateLimitConfig describes one fixed-window limit.
type RateLimitConfig struct {
    // Name namespaces the Redis keys, e.g. "login" or "otp".
    Name    string
    Limit   int
    Window  time.Duration
    Key     KeyFunc
    Message string
    Cache   *redis.Client
    Logger  *slog.Logger
}

// RateLimit counts requests per key in Redis with INCR and EXPIRE. Without
// Redis, or when Redis errors, it falls back to an in-process token bucket
// with the same average rate.
func RateLimit(cfg RateLimitConfig) fiber.Handler {
    if cfg.Limit <= 0 {
        cfg.Limit = 5
    }
    if cfg.Window <= 0 {
        cfg.Window = time.Minute
    }
    if cfg.Message == "" {
        cfg.Message = "too many requests, try again later"
    }
    if cfg.Key == nil {
        cfg.Key = func(*fiber.Ctx) string { return "" }
    }
    local := newLocalLimiter(cfg.Limit, cfg.Window)

    return func(c *fiber.Ctx) error {
        key := cfg.Key(c)
        if key == "" {
            key = c.IP()
        }

        if cfg.Cache != nil {
            redisKey := "rl:" + cfg.Name + ":" + key
            cnt, err := countHit(c.UserContext(), cfg.Cache, redisKey, cfg.Window)
            if err == nil {
                if cnt > int64(cfg.Limit) {
                    return fiber.NewError(http.StatusTooManyRequests, cfg.Message)
                }
                return c.Next()
            }
            if cfg.Logger != nil {
                cfg.Logger.Warn("rate limit store unavailable, using local limiter", "name", cfg.Name, "error", err)
            }
        }

        if !local.allow(key) {
            return fiber.NewError(http.StatusTooManyRequests, cfg.Message)
        }
        return c.Next()
    }
}

// BodyField keys a limit on a top-level JSON string field of the request body.
func BodyField(field string) KeyFunc {
    return func(c *fiber.Ctx) string {
        var body map[string]any
        if err := json.Unmarshal(c.Body(), &body); err != nil {
            return ""
        }
        v, _ := body[field].(string)
        return strings.TrimSpace(v)
    }
}

// EmailKey keys a limit on the normalized "email" body field.
func EmailKey() KeyFunc {
    field := BodyField("email")
    return func(c *fiber.Ctx) string { return identity.NormalizeEmail(field(c)) }
}

type visitor struct {
    limiter  *rate.Limiter
    lastSeen time.Time
}

type localLimiter struct {
    mu       sync.Mutex
    visitors map[string]*visitor
    every    rate.Limit
    burst    int
    idle     time.Duration
}

func newLocalLimiter(limit int, window time.Duration) *localLimiter {
    return &localLimiter{
        visitors: make(map[string]*visitor),
        every:    rate.Every(window / time.Duration(limit)),
        burst:    limit,
        idle:     2 * window,
    }
}

func (l *localLimiter) allow(key string) bool {
    now := time.Now()
    l.mu.Lock()
    defer l.mu.Unlock()
    for k, v := range l.visitors {
        if now.Sub(v.lastSeen) > l.idle {
            delete(l.visitors, k)
        }
    }
    v, ok := l.visitors[key]
    if !ok {
        v = &visitor{limiter: rate.NewLimiter(l.every, l.burst)}
        l.visitors[key] = v
    }
    v.lastSeen = now
    return v.limiter.AllowN(now, 1)
}

// countHit increments the window counter for key. A counter found without an
// expiry, such as one whose EXPIRE failed earlier, is given one here.
func countHit(ctx context.Context, cache *redis.Client, key string, window time.Duration) (int64, error) {
    var (
        incr *redis.IntCmd
        ttl  *redis.DurationCmd
    )
    _, err := cache.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
        incr = pipe.Incr(ctx, key)
        ttl = pipe.TTL(ctx, key)
        return nil
    })
    if err != nil {
        return 0, err
    }
    if ttl.Val() < 0 {
        if err := cache.Expire(ctx, key, window).Err(); err != nil {
            return 0, err
        }
    }
    return incr.Val(), nil
}
