package utils

import (
	"fmt"
	"os"

	"fleet-console-backend/config"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

var (
	mailer   *gomail.Dialer
	mailFrom string
)

// InitializeMailer sets up the SMTP dialer from SMTP_HOST, SMTP_PORT,
// SMTP_USER, SMTP_PASSWORD and SMTP_FROM.
func InitializeMailer() {
	mailHost := config.GetEnv("SMTP_HOST")
	mailUser := config.GetEnv("SMTP_USER")
	mailPassword := config.GetEnv("SMTP_PASSWORD")
	port := config.GetEnvInt("SMTP_PORT", 25)

	if mailHost == "" {
		config.Logger.Warn("SMTP_HOST not set, error report e-mails are disabled")
		return
	}

	mailer = gomail.NewDialer(mailHost, port, mailUser, mailPassword)
	mailFrom = config.GetEnvDefault("SMTP_FROM", mailUser)
	config.Logger.Info("Mailer initialized successfully", zap.String("host", mailHost), zap.Int("port", port))
}

// MailerReady reports whether InitializeMailer found an SMTP host.
func MailerReady() bool {
	return mailer != nil
}

// SendEmail sends a plain text message with an optional attachment.
func SendEmail(to, subject, message, attachmentPath string) error {
	if mailer == nil {
		err := fmt.Errorf("mailer is not initialized")
		config.Logger.Error("Email send failed: mailer is not initialized",
			zap.String("to_email", to),
			zap.String("subject", subject),
			zap.Error(err),
		)
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", mailFrom)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", message)

	if attachmentPath != "" {
		if _, err := os.Stat(attachmentPath); err == nil {
			m.Attach(attachmentPath)
		} else {
			config.Logger.Warn("Attachment file not found for email",
				zap.String("filepath", attachmentPath),
				zap.String("to_email", to),
				zap.Error(err),
			)
		}
	}

	if err := mailer.DialAndSend(m); err != nil {
		config.Logger.Error("Failed to send email via SMTP",
			zap.String("to_email", to),
			zap.String("subject", subject),
			zap.Bool("has_attachment", attachmentPath != ""),
			zap.Error(err),
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	config.Logger.Info("Email sent successfully", zap.String("to_email", to), zap.String("subject", subject))
	return nil
}
