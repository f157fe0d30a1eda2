// Package mailer delivers transactional email such as sign-in codes.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"net/textproto"
)

// Message is a single email with text and HTML bodies.
type Message struct {
	ToEmail string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a Message.
type Sender interface {
	SendEmail(ctx context.Context, msg Message) error
}

// LogSender only logs, for local development.
type LogSender struct{}

func (LogSender) SendEmail(_ context.Context, msg Message) error {
	log.Printf("[Mailer] 📧 to=%s subject=%q\n%s", msg.ToEmail, msg.Subject, msg.Text)
	return nil
}

// SMTPConfig describes the relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	FromName string
	FromAddr string
}

// SMTPSender sends multipart/alternative mail through an SMTP relay.
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a sender for cfg.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
}

func (s *SMTPSender) SendEmail(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := s.build(msg)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := s.sendMail(addr, auth, s.cfg.FromAddr, []string{msg.ToEmail}, raw); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.ToEmail, err)
	}
	return nil
}

func (s *SMTPSender) build(msg Message) ([]byte, error) {
	from := mail.Address{Name: s.cfg.FromName, Address: s.cfg.FromAddr}
	to := mail.Address{Address: msg.ToEmail}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from.String())
	fmt.Fprintf(&out, "To: %s\r\n", to.String())
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", msg.Subject))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

var signInHTML = template.Must(template.New("signin").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; text-align: center;">
    <p>Your {{.Product}} sign in code is</p>
    <p style="font-size: 28px; font-weight: bold; letter-spacing: 4px;">{{.Code}}</p>
    <p>It expires in one hour. If you did not try to sign in you can ignore this email.</p>
  </body>
</html>`))

// SignInCodeMessage renders the sign-in code email for toEmail.
func SignInCodeMessage(product, toEmail, code string) (Message, error) {
	var html bytes.Buffer
	if err := signInHTML.Execute(&html, struct{ Product, Code string }{product, code}); err != nil {
		return Message{}, err
	}
	return Message{
		ToEmail: toEmail,
		Subject: fmt.Sprintf("%s sign in code: %s", product, code),
		Text: fmt.Sprintf("Your %s sign in code is %s\n\nIt expires in one hour. If you did not try to sign in you can ignore this email.\n",
			product, code),
		HTML: html.String(),
	}, nil
}
