/**
 * @description
 * Plain SMTP mailer for operator notifications.
 */
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"
)

// SendFunc matches smtp.SendMail and is swapped out in tests.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends plain-text email through an SMTP relay.
type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	send     SendFunc
}

// New creates a Mailer. Authentication is skipped when username is empty.
func New(host string, port int, username, password, from string) *Mailer {
	return &Mailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		send:     smtp.SendMail,
	}
}

// Configured reports whether a relay host and sender are set.
func (m *Mailer) Configured() bool {
	return m != nil && m.host != "" && m.from != ""
}

// Send delivers one message to every recipient.
func (m *Mailer) Send(to []string, subject, body string) error {
	if !m.Configured() {
		return fmt.Errorf("SMTP not configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	msg := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"\r\n"+
		"%s\r\n", m.from, strings.Join(to, ", "), subject, body))

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	return m.send(addr, auth, m.from, to, msg)
}
