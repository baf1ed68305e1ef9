package services

import (
	"context"
	"fmt"
	"html"
	"mime"
	"net/smtp"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"concurseiro-backend/internal/i18n"
)

type EmailService struct {
	host        string
	port        string
	user        string
	pass        string
	from        string
	frontendURL string
	devMode     bool
	log         *zap.Logger
}

func NewEmailService(host, port, user, pass, from, frontendURL string, log *zap.Logger) *EmailService {
	devMode := host == "" || user == ""
	if devMode {
		log.Warn("email service running in dev mode, messages are only logged")
	}
	return &EmailService{
		host:        host,
		port:        port,
		user:        user,
		pass:        pass,
		from:        from,
		frontendURL: frontendURL,
		devMode:     devMode,
		log:         log,
	}
}

const emailLayout = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: 'Segoe UI', Arial, sans-serif; margin: 0; padding: 0; background-color: #f8fafc;">
  <div style="max-width: 480px; margin: 40px auto; background: white; border-radius: 12px; box-shadow: 0 4px 24px rgba(0,0,0,0.08); overflow: hidden;">
    <div style="background: linear-gradient(135deg, #0f766e 0%%, #0ea5e9 100%%); padding: 32px; text-align: center;">
      <h1 style="color: white; margin: 0; font-size: 24px; font-weight: 700;">Concurseiro</h1>
    </div>
    <div style="padding: 32px;">
      <h2 style="margin: 0 0 16px; font-size: 20px; color: #1e293b;">%s</h2>
      <p style="color: #64748b; font-size: 14px; line-height: 1.6; margin: 0 0 24px;">%s</p>
      <a href="%s" style="display: inline-block; background: #0f766e; color: white; text-decoration: none; padding: 12px 32px; border-radius: 8px; font-weight: 600; font-size: 14px;">%s</a>
      <p style="color: #94a3b8; font-size: 12px; margin: 24px 0 0; line-height: 1.5;">%s</p>
    </div>
  </div>
</body>
</html>`

func renderEmail(title, body, link, button, footer string) string {
	return fmt.Sprintf(emailLayout,
		html.EscapeString(title), html.EscapeString(body), link, html.EscapeString(button), html.EscapeString(footer))
}

// SendVerificationEmail sends the confirmation link in the language carried
// by ctx.
func (s *EmailService) SendVerificationEmail(ctx context.Context, to, token string) error {
	verifyURL := fmt.Sprintf("%s/verify-email?token=%s", s.frontendURL, url.QueryEscape(token))

	body := renderEmail(
		i18n.T(ctx, "VerifyEmailTitle"),
		i18n.T(ctx, "VerifyEmailBody"),
		verifyURL,
		i18n.T(ctx, "VerifyEmailButton"),
		i18n.T(ctx, "VerifyEmailFooter"),
	)
	return s.sendHTML(to, i18n.T(ctx, "VerifyEmailSubject"), body)
}

// SendPlanReminderEmail nudges a user who has not generated today's plan.
func (s *EmailService) SendPlanReminderEmail(ctx context.Context, to, name, examTitle string) error {
	data := map[string]any{"Name": name, "Exam": examTitle}
	subject := i18n.T(ctx, "PlanReminderSubject")
	body := renderEmail(
		subject,
		i18n.Td(ctx, "PlanReminderBody", data),
		s.frontendURL,
		"Concurseiro",
		"",
	)
	return s.sendHTML(to, subject, body)
}

func (s *EmailService) sendHTML(to, subject, htmlBody string) error {
	if s.devMode {
		s.log.Info("dev email", zap.String("to", to), zap.String("subject", subject))
		s.log.Debug("dev email body", zap.String("body", htmlBody))
		return nil
	}

	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", mime.QEncoding.Encode("utf-8", subject)),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}

	message := strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody

	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	if err := smtp.SendMail(addr, auth, s.from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	s.log.Info("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}
