package notification

import (
    "fmt"
    "log/slog"

    "github.com/mindwell/auth_engine/internal/config"
)

// New picks the delivery channel configured by OTP_DELIVERY.
func New(cfg config.Config, logger *slog.Logger) (Notifier, error) {
    switch cfg.OTPDelivery {
    case config.DeliveryDebug:
        return NewLoggerNotifier(logger), nil
    case config.DeliverySMS:
        return NewSMSNotifier(TwilioConfig{
            AccountSID: cfg.TwilioSID,
            AuthToken:  cfg.TwilioToken,
            From:       cfg.TwilioFrom,
            BaseURL:    cfg.TwilioAPIURL,
        }, logger)
    default:
        return nil, fmt.Errorf("unknown otp delivery %q", cfg.OTPDelivery)
    }
}
