package notify

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/google/uuid"

	"github.com/davidkroell/SpotRush/internal/pkg/env"
)

// EmailNotifier sends verification messages via SMTP.
type EmailNotifier struct{}

func (n *EmailNotifier) Send(to string, subject string, body string) (string, error) {
	if err := sendMail(to, subject, body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}
	// SMTP has no message id in the success path; synthesize one for the
	// delivery record.
	return uuid.New().String(), nil
}

func sendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}
