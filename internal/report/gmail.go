package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailSender delivers rendered reports through the Gmail API as the
// authorized user.
type GmailSender struct {
	svc *gmail.Service
	to  string
}

func NewGmailSender(ctx context.Context, opt option.ClientOption, to string) (*GmailSender, error) {
	if to == "" {
		return nil, fmt.Errorf("recipient address is required")
	}

	svc, err := gmail.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &GmailSender{svc: svc, to: to}, nil
}

// Send delivers one HTML mail to the configured recipient.
func (s *GmailSender) Send(ctx context.Context, subject, html string) error {
	msg := &gmail.Message{Raw: buildRawMessage(s.to, subject, html)}

	sent, err := s.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	slog.InfoContext(ctx, "Report mail sent",
		"to", s.to,
		"subject", subject,
		"message_id", sent.Id)
	return nil
}

// buildRawMessage assembles an RFC 2822 HTML mail and encodes it the
// way the Gmail API wants: base64url without padding. The subject is
// MIME-encoded so Japanese text survives.
func buildRawMessage(to, subject, html string) string {
	encodedSubject := "=?utf-8?B?" + base64.StdEncoding.EncodeToString([]byte(subject)) + "?="

	msg := strings.Join([]string{
		"From: me",
		"To: " + to,
		"Content-Type: text/html; charset=utf-8",
		"MIME-Version: 1.0",
		"Subject: " + encodedSubject,
		"",
		html,
	}, "\r\n")

	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(msg))
}
