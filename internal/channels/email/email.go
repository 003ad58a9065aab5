// Package email delivers notifications by email through a pluggable provider.
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"serverwatch/internal/notifier"
	logx "serverwatch/pkg/logx"
)

// Provider sends a single HTML email.
type Provider interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type Config struct {
	Enabled  bool
	Provider string // smtp | brevo | gmail | mock
	From     string
	FromName string

	SMTP  SMTPConfig
	Brevo BrevoConfig
	Gmail GmailConfig
}

// Sender implements notifier.Sender for the email channel.
type Sender struct {
	cfg Config
	log logx.Logger

	mu       sync.RWMutex
	status   notifier.Status
	provider Provider
}

func New(cfg Config, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "email")),
		status: notifier.StatusUninitialized,
	}
}

// NewWithProvider wires an already constructed provider and marks the sender ready.
func NewWithProvider(p Provider, log logx.Logger) *Sender {
	s := New(Config{Enabled: true}, log)
	s.provider = p
	s.status = notifier.StatusReady
	return s
}

func (s *Sender) Name() string { return notifier.ChannelEmail }

func (s *Sender) Status() notifier.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Init builds the configured provider. A disabled channel stays uninitialized.
func (s *Sender) Init(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	s.setStatus(notifier.StatusConnecting)

	p, err := s.build(ctx)
	if err != nil {
		s.setStatus(notifier.StatusFailed)
		s.log.Error("provider init failed", logx.String("provider", s.cfg.Provider), logx.Err(err))
		return err
	}

	s.mu.Lock()
	s.provider = p
	s.status = notifier.StatusReady
	s.mu.Unlock()
	s.log.Info("email ready", logx.String("provider", s.cfg.Provider))
	return nil
}

func (s *Sender) build(ctx context.Context) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s.cfg.Provider)) {
	case "smtp":
		return NewSMTPProvider(s.cfg.SMTP, s.cfg.From, s.log)
	case "brevo":
		return NewBrevoProvider(s.cfg.Brevo, s.cfg.From, s.cfg.FromName, s.log)
	case "gmail":
		return NewGmailProvider(ctx, s.cfg.Gmail, s.log)
	case "", "mock":
		return NewMockProvider(s.log), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", s.cfg.Provider)
	}
}

func (s *Sender) setStatus(st notifier.Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Sender) Send(ctx context.Context, recipient string, msg notifier.Message) (notifier.Receipt, error) {
	s.mu.RLock()
	p, st := s.provider, s.status
	s.mu.RUnlock()
	if p == nil || st != notifier.StatusReady {
		return notifier.Receipt{}, notifier.ErrChannelUnavailable
	}
	if strings.TrimSpace(recipient) == "" {
		return notifier.Receipt{}, errors.New("empty recipient")
	}

	body := msg.HTML
	if body == "" {
		body = "<pre>" + msg.Text + "</pre>"
	}
	subject := msg.Title
	if subject == "" {
		subject = "serverwatch notification"
	}
	if err := p.Send(ctx, recipient, subject, body); err != nil {
		return notifier.Receipt{}, err
	}
	return notifier.Receipt{At: time.Now()}, nil
}

// sanitizeHeader removes CR, LF and other control characters from a header value.
func sanitizeHeader(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// buildMIME renders a minimal HTML message with sanitized headers.
func buildMIME(from, to, subject, htmlBody string) string {
	var b strings.Builder
	b.WriteString("MIME-Version: 1.0\r\n")
	if from != "" {
		b.WriteString("From: " + sanitizeHeader(from) + "\r\n")
	}
	b.WriteString("To: " + sanitizeHeader(to) + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(subject) + "\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(htmlBody)
	return b.String()
}
