package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned while the SMS provider is considered down.
var ErrUnavailable = errors.New("sms provider unavailable")

// TwilioConfig holds the Twilio Messages API credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	// BaseURL defaults to the public Twilio API.
	BaseURL string
	// MaxFailures consecutive failures open the breaker. Defaults to 5.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open. Defaults to 30s.
	OpenTimeout time.Duration
	HTTPClient  *http.Client
}

// SMSNotifier sends messages through Twilio behind a circuit breaker.
type SMSNotifier struct {
	cfg    TwilioConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

// NewSMSNotifier builds a Twilio-backed notifier.
func NewSMSNotifier(cfg TwilioConfig, logger *slog.Logger) (*SMSNotifier, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, errors.New("twilio account sid, auth token and from number are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	maxFailures := cfg.MaxFailures
	st := gobreaker.Settings{
		Name:        "twilio-sms",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger != nil {
				logger.Warn("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
			}
		},
	}
	return &SMSNotifier{cfg: cfg, client: client, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// Send posts the message to the Twilio Messages endpoint.
func (n *SMSNotifier) Send(ctx context.Context, message Message) error {
	_, err := n.cb.Execute(func() (interface{}, error) {
		return nil, n.post(ctx, message)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (n *SMSNotifier) post(ctx context.Context, message Message) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", strings.TrimRight(n.cfg.BaseURL, "/"), n.cfg.AccountSID)

	form := url.Values{}
	form.Set("To", message.Destination)
	form.Set("From", n.cfg.From)
	form.Set("Body", message.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("twilio returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
