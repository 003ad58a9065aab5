package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	logx "serverwatch/pkg/logx"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPProvider sends through a plain SMTP relay with PLAIN auth.
type SMTPProvider struct {
	cfg  SMTPConfig
	from string
	log  logx.Logger
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPProvider(cfg SMTPConfig, from string, log logx.Logger) (*SMTPProvider, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if from == "" {
		return nil, errors.New("email from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPProvider{cfg: cfg, from: from, log: log, send: smtp.SendMail}, nil
}

func (p *SMTPProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	msg := buildMIME(p.from, to, subject, htmlBody)

	// net/smtp has no context support; bound the call and abandon it on cancel.
	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- p.send(addr, auth, p.from, []string{sanitizeHeader(to)}, []byte(msg)) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		p.log.Debug("smtp sent", logx.String("to", to), logx.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
