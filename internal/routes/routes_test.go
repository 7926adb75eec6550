package routes

import (
    "bytes"
    "encoding/json"
    "io"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"

    miniredis "github.com/alicebob/miniredis/v2"
    "github.com/gofiber/fiber/v2"
    "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/require"

    "github.com/mindwell/auth_engine/internal/config"
    "github.com/mindwell/auth_engine/internal/logging"
)

type envelope struct {
    Message  string `json:"message"`
    Error    string `json:"error"`
    Token    string `json:"token"`
    DebugOTP string `json:"debug_otp"`
    User     struct {
        ID       string  `json:"id"`
        Username string  `json:"username"`
        Email    string  `json:"email"`
        FullName string  `json:"full_name"`
        Phone    *string `json:"phone"`
    } `json:"user"`
}

func newTestApp(t *testing.T, cache *redis.Client) *fiber.App {
    t.Helper()
    cfg, err := config.FromEnv(map[string]string{"APP_ENV": "test", "BCRYPT_COST": "4"})
    require.NoError(t, err)

    logger := logging.Discard()
    app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
    require.NoError(t, Setup(app, Deps{Cfg: cfg, Cache: cache, Logger: logger}))
    return app
}

func call(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, envelope, string) {
    t.Helper()
    var rdr io.Reader
    if body != "" {
        rdr = strings.NewReader(body)
    }
    req := httptest.NewRequest(method, path, rdr)
    req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
    for k, v := range headers {
        req.Header.Set(k, v)
    }
    resp, err := app.Test(req, 5000)
    require.NoError(t, err)
    defer resp.Body.Close()
    raw, err := io.ReadAll(resp.Body)
    require.NoError(t, err)

    var env envelope
    if len(raw) > 0 {
        require.NoError(t, json.Unmarshal(raw, &env), "body: %s", raw)
    }
    return resp.StatusCode, env, string(raw)
}

const aliceBody = `{"username":"alice","email":"a@x.com","password":"Secr3t!","full_name":"Alice"}`

func TestRegisterAndLoginFlow(t *testing.T) {
    app := newTestApp(t, nil)

    status, env, _ := call(t, app, http.MethodPost, "/register", aliceBody, nil)
    require.Equal(t, http.StatusOK, status)
    require.NotEmpty(t, env.Token)
    require.Equal(t, "alice", env.User.Username)
    require.Nil(t, env.User.Phone)

    status, env, _ = call(t, app, http.MethodPost, "/register", aliceBody, nil)
    require.Equal(t, http.StatusBadRequest, status)
    require.Equal(t, "Email already registered", env.Message)

    status, env, _ = call(t, app, http.MethodPost, "/login", `{"email":"a@x.com","password":"Secr3t!"}`, nil)
    require.Equal(t, http.StatusOK, status)
    token := env.Token

    status, env, _ = call(t, app, http.MethodGet, "/me", "", map[string]string{"Authorization": "Bearer " + token})
    require.Equal(t, http.StatusOK, status)
    require.Equal(t, "a@x.com", env.User.Email)

    status, env, _ = call(t, app, http.MethodGet, "/me", "", nil)
    require.Equal(t, http.StatusUnauthorized, status)
    require.NotEmpty(t, env.Message)
}

func TestLoginFailuresAreIdentical(t *testing.T) {
    app := newTestApp(t, nil)
    status, _, _ := call(t, app, http.MethodPost, "/register", aliceBody, nil)
    require.Equal(t, http.StatusOK, status)

    s1, _, unknown := call(t, app, http.MethodPost, "/login", `{"email":"ghost@x.com","password":"Secr3t!"}`, nil)
    s2, _, wrong := call(t, app, http.MethodPost, "/login", `{"email":"a@x.com","password":"nope-nope"}`, nil)
    require.Equal(t, http.StatusBadRequest, s1)
    require.Equal(t, s1, s2)
    require.JSONEq(t, `{"message":"Invalid Credentials"}`, unknown)
    require.Equal(t, unknown, wrong)
}

func TestOTPFlow(t *testing.T) {
    app := newTestApp(t, nil)

    status, env, _ := call(t, app, http.MethodPost, "/request-otp", `{"phone":"+1999"}`, nil)
    require.Equal(t, http.StatusNotFound, status)
    require.Equal(t, "No account found with this phone number", env.Message)

    status, env, _ = call(t, app, http.MethodPost, "/request-otp", `{}`, nil)
    require.Equal(t, http.StatusBadRequest, status)
    require.Equal(t, "Phone number is required", env.Message)

    status, _, _ = call(t, app, http.MethodPost, "/register",
        `{"username":"bob","email":"b@x.com","password":"Secr3t!","full_name":"Bob","phone":"+15550123"}`, nil)
    require.Equal(t, http.StatusOK, status)

    status, env, _ = call(t, app, http.MethodPost, "/request-otp", `{"phone":"+15550123"}`, nil)
    require.Equal(t, http.StatusOK, status)
    require.Equal(t, "OTP sent successfully", env.Message)
    require.Regexp(t, `^[0-9]{6}$`, env.DebugOTP)
    code := env.DebugOTP

    verify := `{"phone":"+15550123","otp":"` + code + `"}`
    status, env, _ = call(t, app, http.MethodPost, "/verify-otp", verify, nil)
    require.Equal(t, http.StatusOK, status)
    require.NotEmpty(t, env.Token)
    require.Equal(t, "+15550123", *env.User.Phone)

    status, env, _ = call(t, app, http.MethodPost, "/verify-otp", verify, nil)
    require.Equal(t, http.StatusBadRequest, status)
    require.Equal(t, "Invalid or expired OTP", env.Message)

    status, env, _ = call(t, app, http.MethodPost, "/verify-otp", `{"phone":"+15550123"}`, nil)
    require.Equal(t, http.StatusBadRequest, status)
    require.Equal(t, "Phone and OTP are required", env.Message)
}

func TestValidationEnvelope(t *testing.T) {
    app := newTestApp(t, nil)

    status, env, _ := call(t, app, http.MethodPost, "/register", `{"username":"al","email":"x","password":"1","full_name":"A"}`, nil)
    require.Equal(t, http.StatusBadRequest, status)
    require.Equal(t, "Validation failed", env.Message)
    require.Contains(t, env.Error, "username")
    require.Contains(t, env.Error, "email")
    require.Contains(t, env.Error, "password")

    status, env, _ = call(t, app, http.MethodPost, "/login", `{not json`, nil)
    require.Equal(t, http.StatusBadRequest, status)
    require.Equal(t, "Invalid request body", env.Message)
}

func TestLoginRateLimited(t *testing.T) {
    app := newTestApp(t, nil)
    body := `{"email":"ghost@x.com","password":"whatever"}`
    for i := 0; i < 5; i++ {
        status, _, _ := call(t, app, http.MethodPost, "/login", body, nil)
        require.Equal(t, http.StatusBadRequest, status)
    }
    status, env, _ := call(t, app, http.MethodPost, "/login", body, nil)
    require.Equal(t, http.StatusTooManyRequests, status)
    require.NotEmpty(t, env.Message)
}

func TestRegisterIdempotencyReplay(t *testing.T) {
    mr := miniredis.RunT(t)
    cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { cache.Close() })
    app := newTestApp(t, cache)

    headers := map[string]string{"Idempotency-Key": "reg-1"}
    status, first, _ := call(t, app, http.MethodPost, "/register", aliceBody, headers)
    require.Equal(t, http.StatusOK, status)

    status, second, _ := call(t, app, http.MethodPost, "/register", aliceBody, headers)
    require.Equal(t, http.StatusOK, status)
    require.Equal(t, first.Token, second.Token)
    require.Equal(t, first.User.ID, second.User.ID)
}

func TestHealthz(t *testing.T) {
    app := newTestApp(t, nil)
    status, _, raw := call(t, app, http.MethodGet, "/healthz", "", nil)
    require.Equal(t, http.StatusOK, status)
    require.Contains(t, raw, `"postgres":"disabled"`)
}

func TestAccessLogLine(t *testing.T) {
    cfg, err := config.FromEnv(map[string]string{"APP_ENV": "test", "BCRYPT_COST": "4"})
    require.NoError(t, err)
    logger := logging.Discard()
    var out bytes.Buffer
    app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
    require.NoError(t, Setup(app, Deps{Cfg: cfg, Logger: logger, AccessLog: true, AccessLogOutput: &out}))

    status, _, _ := call(t, app, http.MethodGet, "/healthz", "", nil)
    require.Equal(t, http.StatusOK, status)
    require.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\] 200 - .+ GET /healthz\n$`, out.String())
}

func TestPanicRendersGenericFailure(t *testing.T) {
    app := newTestApp(t, nil)
    app.Get("/boom", func(c *fiber.Ctx) error { panic("kaboom") })

    status, env, raw := call(t, app, http.MethodGet, "/boom", "", nil)
    require.Equal(t, http.StatusInternalServerError, status)
    require.Equal(t, "Auth Engine Failure", env.Message)
    require.NotContains(t, raw, "kaboom")
}
