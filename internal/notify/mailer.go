package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/consolidate"
)

//go:embed templates/*.html
var templateFS embed.FS

// Config holds SMTP delivery settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
}

// Mailer sends the end-of-run notification email over SMTP, rendering one of
// the embedded HTML templates per final run status.
type Mailer struct {
	cfg       Config
	templates *template.Template
	dial      func(m *gomail.Message) error
	logger    *zap.Logger
}

// NewMailer creates a mailer with the embedded templates parsed
func NewMailer(cfg Config, logger *zap.Logger) (*Mailer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse notification templates: %w", err)
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &Mailer{
		cfg:       cfg,
		templates: tmpl,
		dial:      dialer.DialAndSend,
		logger:    logger,
	}, nil
}

// Send renders the template named by the message and delivers exactly one
// email. The context is honored before dialing; SMTP itself is blocking.
func (m *Mailer) Send(ctx context.Context, msg consolidate.Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("no recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := m.templates.ExecuteTemplate(&body, msg.Template+".html", msg.Vars); err != nil {
		return fmt.Errorf("render template %s: %w", msg.Template, err)
	}

	mail := gomail.NewMessage()
	mail.SetHeader("From", m.cfg.Sender)
	mail.SetHeader("To", msg.To...)
	if len(msg.CC) > 0 {
		mail.SetHeader("Cc", msg.CC...)
	}
	if len(msg.BCC) > 0 {
		mail.SetHeader("Bcc", msg.BCC...)
	}
	mail.SetHeader("Subject", msg.Subject)
	mail.SetBody("text/html", body.String())
	for _, attachment := range msg.Attachments {
		mail.Attach(attachment)
	}

	if err := m.dial(mail); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}

	m.logger.Info("Notification sent",
		zap.String("subject", msg.Subject),
		zap.Strings("to", msg.To),
		zap.String("template", msg.Template))
	return nil
}
