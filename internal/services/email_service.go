package services

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// EmailService sends operational alerts through Resend.
type EmailService struct {
	Client *resend.Client
	From   string
	To     string
	log    *zap.Logger
}

func NewEmailService(apiKey, fromEmail, opsEmail string, log *zap.Logger) *EmailService {
	if log == nil {
		log = zap.NewNop()
	}
	if apiKey == "" {
		log.Warn("RESEND_API_KEY is empty, ops alerts will only be logged")
	}
	if fromEmail == "" {
		fromEmail = "onboarding@resend.dev" // Resend's default test sender
	}
	log.Info("Email service initialized",
		zap.String("from", fromEmail),
		zap.String("ops", opsEmail),
		zap.String("api_key", maskAPIKey(apiKey)))

	var client *resend.Client
	if apiKey != "" {
		client = resend.NewClient(apiKey)
	}
	return &EmailService{Client: client, From: fromEmail, To: opsEmail, log: log}
}

func maskAPIKey(key string) string {
	if len(key) == 0 {
		return "EMPTY"
	}
	if len(key) < 8 {
		return "***"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// Alert emails the operations mailbox.
func (es *EmailService) Alert(ctx context.Context, subject, body string) error {
	if es.Client == nil || es.To == "" {
		es.log.Warn("Ops alert (email disabled)", zap.String("subject", subject), zap.String("body", body))
		return nil
	}

	params := &resend.SendEmailRequest{
		From:    es.From,
		To:      []string{es.To},
		Subject: "[GigEscrow] " + subject,
		Html:    alertHTML(subject, body),
		Text:    body,
	}
	sent, err := es.Client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	es.log.Info("Ops alert sent", zap.String("subject", subject), zap.String("email_id", sent.Id))
	return nil
}

func alertHTML(subject, body string) string {
	paragraphs := strings.Split(html.EscapeString(body), "\n")
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .alert-box { background-color: #f4f4f4; border-left: 4px solid #dc3545; padding: 16px; margin: 20px 0; }
        .footer { margin-top: 30px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <h2>%s</h2>
        <div class="alert-box"><p>%s</p></div>
        <div class="footer">
            <p>This is an automated message, please do not reply.</p>
        </div>
    </div>
</body>
</html>
`, html.EscapeString(subject), strings.Join(paragraphs, "</p><p>"))
}
