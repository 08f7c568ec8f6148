package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crm-notification-service/internal/domain"
	"crm-notification-service/pkg/template"
)

// EmailAdapter delivers instant notifications and digests over SMTP with
// implicit TLS (port 465 style).
type EmailAdapter struct {
	smtpHost string
	smtpPort string
	username string
	password string
	dir      Directory
	tmpl     *template.Service
	logger   *zap.Logger
}

func NewEmailAdapter(host, port, user, pass string, dir Directory, tmpl *template.Service, logger *zap.Logger) *EmailAdapter {
	return &EmailAdapter{
		smtpHost: host,
		smtpPort: port,
		username: user,
		password: pass,
		dir:      dir,
		tmpl:     tmpl,
		logger:   logger,
	}
}

func (e *EmailAdapter) Channel() domain.Channel { return domain.ChannelEmail }

func (e *EmailAdapter) Send(ctx context.Context, n *domain.Notification, _ *domain.Delivery) (*Result, error) {
	recipient, err := e.dir.Email(ctx, n.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient for user %s: %w", n.UserID, err)
	}

	body, err := e.tmpl.RenderNotification(n)
	if err != nil {
		e.logger.Warn("email template render failed, sending plain message",
			zap.String("event_type", string(n.EventType)),
			zap.Error(err))
		body = n.Message
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), e.smtpHost)
	if err := e.send(recipient, n.Title, body, messageID); err != nil {
		return nil, err
	}
	return &Result{ProviderMessageID: messageID, Sent: 1}, nil
}

func (e *EmailAdapter) SendDigest(ctx context.Context, userID, subject, htmlBody string) error {
	recipient, err := e.dir.Email(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve recipient for user %s: %w", userID, err)
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), e.smtpHost)
	return e.send(recipient, subject, htmlBody, messageID)
}

func (e *EmailAdapter) send(to, subject, body, messageID string) error {
	from := e.username
	msg := []byte(
		fmt.Sprintf("From: %s\r\n", from) +
			fmt.Sprintf("To: %s\r\n", to) +
			fmt.Sprintf("Subject: %s\r\n", subject) +
			fmt.Sprintf("Message-ID: %s\r\n", messageID) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=\"utf-8\"\r\n" +
			"\r\n" +
			body,
	)

	serverAddr := e.smtpHost + ":" + e.smtpPort

	// Implicit TLS for port 465
	tlsConfig := &tls.Config{
		ServerName: e.smtpHost,
	}

	conn, err := tls.Dial("tcp", serverAddr, tlsConfig)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return err
	}
	defer client.Quit()

	auth := smtp.PlainAuth("", e.username, e.password, e.smtpHost)
	if err := client.Auth(auth); err != nil {
		return err
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}
