package smtp

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-otp-accounts/internal/config"
	"github.com/go-otp-accounts/internal/domain"
	"gopkg.in/gomail.v2"
)

// sender is the part of *gomail.Dialer the mailer uses.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer delivers OTP codes by email. It satisfies otp.Dispatcher.
type Mailer struct {
	dialer  sender
	from    string
	appName string
	ttl     time.Duration
}

// Configured reports whether SMTP credentials are present. Without them the
// service falls back to the console dispatcher.
func Configured(cfg *config.Config) bool {
	return cfg.SMTPUsername != "" && cfg.SMTPPassword != ""
}

func NewMailer(cfg *config.Config) *Mailer {
	from := cfg.SMTPFrom
	if from == "" {
		from = cfg.SMTPUsername
	}
	return &Mailer{
		dialer:  gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		from:    from,
		appName: cfg.AppName,
		ttl:     cfg.OTPTTL,
	}
}

// SendCode blocks until the SMTP exchange finishes or ctx is done. gomail has
// no context support, so a timed-out send may still complete in the background.
func (m *Mailer) SendCode(ctx context.Context, to, code string) domain.DeliveryResult {
	msg := m.compose(to, code)
	done := make(chan error, 1)
	go func() { done <- m.dialer.DialAndSend(msg) }()

	select {
	case err := <-done:
		if err != nil {
			return domain.Failed(fmt.Sprintf("smtp send: %v", err))
		}
		return domain.Sent()
	case <-ctx.Done():
		return domain.Failed(fmt.Sprintf("smtp send: %v", ctx.Err()))
	}
}

func (m *Mailer) compose(to, code string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", fmt.Sprintf("%s – Your Login Verification Code", m.appName))
	msg.SetBody("text/plain", body(m.appName, code, m.ttl))
	return msg
}

func body(appName, code string, ttl time.Duration) string {
	minutes := int(math.Ceil(ttl.Minutes()))
	return fmt.Sprintf(`Hello,

Your verification code for %s is: %s

This code will expire in %d minutes.

If you did not request this code, please ignore this email.

Best regards,
%s Team
`, appName, code, minutes, appName)
}
