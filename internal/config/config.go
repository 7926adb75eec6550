package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// DevJWTSecret is only accepted outside production.
	DevJWTSecret = "auth-engine-dev-secret-do-not-use"

	minProductionSecretLen = 32

	DeliveryDebug = "debug"
	DeliverySMS   = "sms"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"AuthEngine"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	DBMaxConns     int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	AutoMigrate    bool          `env:"AUTO_MIGRATE" envDefault:"true"`
	RedisURL       string        `env:"REDIS_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"JWT_TTL" envDefault:"168h"`

	OTPTTL       time.Duration `env:"OTP_TTL" envDefault:"10m"`
	OTPDelivery  string        `env:"OTP_DELIVERY" envDefault:"debug"`
	BcryptCost   int           `env:"BCRYPT_COST" envDefault:"10"`
	LoginPerMin  int           `env:"LOGIN_RATE_LIMIT_PER_MIN" envDefault:"5"`
	OTPPerHour   int           `env:"OTP_RATE_LIMIT_PER_HOUR" envDefault:"5"`
	TwilioSID    string        `env:"TWILIO_ACCOUNT_SID"`
	TwilioToken  string        `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom   string        `env:"TWILIO_FROM"`
	TwilioAPIURL string        `env:"TWILIO_API_URL" envDefault:"https://api.twilio.com/2010-04-01"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(nil)
}

// FromEnv parses configuration from the process environment, or from vars
// when it is non-nil, and validates it.
func FromEnv(vars map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if vars != nil {
		opts.Environment = vars
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.OTPDelivery = strings.ToLower(strings.TrimSpace(cfg.OTPDelivery))

	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = DevJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations that are unsafe or unusable.
func (c Config) Validate() error {
	switch c.OTPDelivery {
	case DeliveryDebug, DeliverySMS:
	default:
		return fmt.Errorf("invalid OTP_DELIVERY %q", c.OTPDelivery)
	}
	if c.TokenTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	if c.OTPTTL <= 0 {
		return errors.New("OTP_TTL must be positive")
	}
	if c.OTPDelivery == DeliverySMS && (c.TwilioSID == "" || c.TwilioToken == "" || c.TwilioFrom == "") {
		return errors.New("OTP_DELIVERY=sms requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM")
	}

	if !c.IsProduction() {
		return nil
	}
	if c.JWTSecret == "" || c.JWTSecret == DevJWTSecret {
		return errors.New("JWT_SECRET must be set in production")
	}
	if len(c.JWTSecret) < minProductionSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minProductionSecretLen)
	}
	if c.OTPDelivery == DeliveryDebug {
		return errors.New("OTP_DELIVERY=debug is not allowed in production")
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set")
	}
	return nil
}

// IsProduction reports whether the app runs with production guarantees.
func (c Config) IsProduction() bool {
	switch c.AppEnv {
	case "dev", "development", "local", "test":
		return false
	default:
		return true
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
