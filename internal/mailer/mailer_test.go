package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestSignInCodeMessage(t *testing.T) {
	msg, err := SignInCodeMessage("Bubbly Clouds", "a@b.com", "7KX-M2Q-RTB")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.ToEmail != "a@b.com" {
		t.Fatalf("ToEmail = %q", msg.ToEmail)
	}
	for name, body := range map[string]string{"subject": msg.Subject, "text": msg.Text, "html": msg.HTML} {
		if !strings.Contains(body, "7KX-M2Q-RTB") {
			t.Errorf("%s does not contain the code: %q", name, body)
		}
	}
}

func TestSMTPSender_BuildsMultipartMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, FromName: "Bubbly Clouds", FromAddr: "noreply@example.com"})
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := s.SendEmail(context.Background(), Message{ToEmail: "a@b.com", Subject: "Hello", Text: "plain body", HTML: "<p>html body</p>"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "noreply@example.com" || len(gotTo) != 1 || gotTo[0] != "a@b.com" {
		t.Fatalf("unexpected envelope addr=%s from=%s to=%v", gotAddr, gotFrom, gotTo)
	}
	raw := string(gotMsg)
	for _, want := range []string{
		"Subject: Hello\r\n",
		"multipart/alternative",
		"plain body",
		"<p>html body</p>",
		`From: "Bubbly Clouds" <noreply@example.com>`,
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestSMTPSender_PropagatesErrors(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 25, FromAddr: "noreply@example.com"})
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("relay down")
	}
	if err := s.SendEmail(context.Background(), Message{ToEmail: "a@b.com"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLogSender(t *testing.T) {
	if err := (LogSender{}).SendEmail(context.Background(), Message{ToEmail: "a@b.com"}); err != nil {
		t.Fatalf("LogSender: %v", err)
	}
}
