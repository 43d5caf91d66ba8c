// Package mail delivers billing notifications over SMTP or Postmark.
package mail

import (
	"context"
	"errors"

	billingsvc "billing-app/internal/service/billing"

	"go.uber.org/zap"
)

var ErrDisabled = errors.New("mail delivery is not configured")

type Config struct {
	From    string
	ReplyTo string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string

	PostmarkServerToken  string
	PostmarkAccountToken string
}

// New picks Postmark when a server token is set, then SMTP when a host is set,
// and otherwise a disabled mailer.
func New(cfg Config, log *zap.Logger) billingsvc.Mailer {
	if log == nil {
		log = zap.NewNop()
	}
	switch {
	case cfg.From == "":
		log.Warn("mail disabled: no sender address configured")
	case cfg.PostmarkServerToken != "":
		log.Info("mail transport: postmark")
		return NewPostmark(cfg)
	case cfg.SMTPHost != "":
		log.Info("mail transport: smtp", zap.String("host", cfg.SMTPHost))
		return NewSMTP(cfg)
	default:
		log.Warn("mail disabled: neither POSTMARK_SERVER_TOKEN nor SMTP_HOST is set")
	}
	return Disabled{}
}

// Disabled drops every message.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Send(context.Context, billingsvc.Message) error { return ErrDisabled }
