package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go"
)

type ResendMailer struct {
	client      *resend.Client
	From        string
	AppBaseURL  string
	ConfirmPath string
	ResetPath   string
}

func NewResendMailer(apiKey string, from string, appBaseURL string) *ResendMailer {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(from) == "" {
		return &ResendMailer{}
	}
	return &ResendMailer{
		client:      resend.NewClient(apiKey),
		From:        from,
		AppBaseURL:  strings.TrimRight(appBaseURL, "/"),
		ConfirmPath: "/auth/confirmation",
		ResetPath:   "/auth/password/edit",
	}
}

func (m *ResendMailer) Deliver(ctx context.Context, n Notification) error {
	if m.client == nil {
		return fmt.Errorf("%w: email sender not configured", ErrUndeliverable)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, html, text, err := m.render(n)
	if err != nil {
		return err
	}
	_, err = m.client.Emails.Send(&resend.SendEmailRequest{
		From:    m.From,
		To:      []string{n.Email},
		Subject: subject,
		Html:    html,
		Text:    text,
	})
	if err != nil {
		return fmt.Errorf("resend %s: %w", n.Kind, err)
	}
	return nil
}

func (m *ResendMailer) render(n Notification) (string, string, string, error) {
	switch n.Kind {
	case NotifyConfirmationInstructions:
		link := m.buildURL(m.ConfirmPath, n.Token)
		return "Confirm your email",
			fmt.Sprintf("<p>Click to confirm your email:</p><p><a href=\"%s\">Confirm Email</a></p>", link),
			fmt.Sprintf("Confirm your email: %s", link), nil
	case NotifyResetPasswordInstructions:
		link := m.buildURL(m.ResetPath, n.Token)
		return "Reset your password",
			fmt.Sprintf("<p>Click to reset your password:</p><p><a href=\"%s\">Reset Password</a></p><p>The link expires at %s.</p>", link, n.ExpiresAt.Format("2006-01-02 15:04 MST")),
			fmt.Sprintf("Reset your password: %s", link), nil
	case NotifyPasswordChange:
		return "Your password was changed",
			"<p>The password of your account was changed. If this was not you, reset it now.</p>",
			"The password of your account was changed. If this was not you, reset it now.", nil
	case NotifyAccountLocked:
		until := n.ExpiresAt.Format("2006-01-02 15:04 MST")
		return "Your account is locked",
			fmt.Sprintf("<p>Too many failed sign-in attempts. Your account is locked until %s.</p>", until),
			fmt.Sprintf("Too many failed sign-in attempts. Your account is locked until %s.", until), nil
	}
	return "", "", "", fmt.Errorf("%w: unknown notification kind %q", ErrUndeliverable, n.Kind)
}

func (m *ResendMailer) buildURL(path string, token string) string {
	base := strings.TrimRight(m.AppBaseURL, "/")
	if base == "" {
		return token
	}
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s%s?token=%s", base, path, token)
}
