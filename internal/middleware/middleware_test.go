package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mindwell/auth_engine/internal/auth"
	"github.com/mindwell/auth_engine/internal/logging"
)

func TestDeadlineSetsContextDeadline(t *testing.T) {
	app := fiber.New()
	app.Get("/", Deadline(50*time.Millisecond), func(c *fiber.Ctx) error {
		dl, ok := c.UserContext().Deadline()
		if !ok || time.Until(dl) > 50*time.Millisecond {
			return c.SendStatus(fiber.StatusTeapot)
		}
		<-c.UserContext().Done()
		if c.UserContext().Err() != context.DeadlineExceeded {
			return c.SendStatus(fiber.StatusTeapot)
		}
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected deadline to fire, got %d", resp.StatusCode)
	}
}

func TestBearerAuth(t *testing.T) {
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{Secret: []byte("k")})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	tok, _, err := issuer.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	app := fiber.New()
	app.Get("/me", BearerAuth(issuer), func(c *fiber.Ctx) error {
		uid, _ := c.Locals(auth.LocalUserID).(string)
		return c.SendString(uid)
	})

	cases := map[string]struct {
		header string
		status int
	}{
		"valid":   {"Bearer " + tok, fiber.StatusOK},
		"missing": {"", fiber.StatusUnauthorized},
		"garbage": {"Bearer nope", fiber.StatusUnauthorized},
		"basic":   {"Basic dTpw", fiber.StatusUnauthorized},
	}
	for name, tc := range cases {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set(fiber.HeaderAuthorization, tc.header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: app.Test: %v", name, err)
		}
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d got %d", name, tc.status, resp.StatusCode)
		}
	}
}

func TestRequestIDTagsContextLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logging.NewWithWriter(&buf, "info", "test")

	app := fiber.New()
	app.Get("/", RequestID(base), func(c *fiber.Ctx) error {
		logging.FromContext(c.UserContext(), nil).Info("inside")
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := resp.Header.Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["request_id"] != "req-42" {
		t.Fatalf("expected request_id on log line, got %v", line)
	}
}

func TestAuditDerivesStatusFromError(t *testing.T) {
	if got := statusOf(fiber.NewError(fiber.StatusTooManyRequests, "slow down")); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", got)
	}
	if got := statusOf(&auth.Error{Kind: auth.KindNotFound}); got != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", got)
	}
}
