package mail

import (
	"context"
	"fmt"

	billingsvc "billing-app/internal/service/billing"

	"github.com/mrz1836/postmark"
)

type Postmark struct {
	client *postmark.Client
	cfg    Config
}

func NewPostmark(cfg Config) *Postmark {
	return &Postmark{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		cfg:    cfg,
	}
}

func (p *Postmark) Enabled() bool { return true }

func (p *Postmark) Send(ctx context.Context, msg billingsvc.Message) error {
	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.cfg.From,
		ReplyTo:    p.cfg.ReplyTo,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTML,
		TextBody:   msg.Text,
		TrackOpens: false,
	})
	if err != nil {
		return fmt.Errorf("postmark send: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
