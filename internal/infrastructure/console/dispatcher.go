// Package console prints OTP codes to the log instead of delivering them.
// It is the development dispatcher used when no SMTP credentials are set.
package console

import (
	"context"
	"log/slog"

	"github.com/go-otp-accounts/internal/domain"
)

type Dispatcher struct {
	logger *slog.Logger
}

// NewDispatcher logs through logger, or slog.Default() when nil.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

func (d *Dispatcher) SendCode(ctx context.Context, to, code string) domain.DeliveryResult {
	d.logger.WarnContext(ctx, "otp code (console delivery)", "email", to, "code", code)
	return domain.Sent()
}
