package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	logx "serverwatch/pkg/logx"

	"github.com/codeGROOVE-dev/retry"
)

type BrevoConfig struct {
	APIKey   string
	Endpoint string // defaults to the public v3 endpoint
}

// BrevoProvider sends emails via the Brevo transactional API.
type BrevoProvider struct {
	cfg      BrevoConfig
	fromAddr string
	fromName string
	client   *http.Client
	log      logx.Logger
	attempts uint
	delay    time.Duration
	jitter   time.Duration
}

func NewBrevoProvider(cfg BrevoConfig, fromAddr, fromName string, log logx.Logger) (*BrevoProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("brevo api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.brevo.com/v3/smtp/email"
	}
	return &BrevoProvider{
		cfg:      cfg,
		fromAddr: fromAddr,
		fromName: fromName,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log,
		attempts: 3,
		delay:    time.Second,
		jitter:   2 * time.Second,
	}, nil
}

type brevoSendRequest struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Subject string         `json:"subject"`
	HTML    string         `json:"htmlContent"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (b *BrevoProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	payload, err := json.Marshal(brevoSendRequest{
		Sender:  brevoContact{Email: b.fromAddr, Name: b.fromName},
		To:      []brevoContact{{Email: to}},
		Subject: sanitizeHeader(subject),
		HTML:    htmlBody,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint, bytes.NewReader(payload))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("api-key", b.cfg.APIKey)

			start := time.Now()
			resp, err := b.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				b.log.Debug("brevo sent", logx.String("to", to), logx.Duration("took", time.Since(start)))
				return nil
			case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
				return retry.Unrecoverable(fmt.Errorf("brevo: HTTP %d", resp.StatusCode))
			default:
				return fmt.Errorf("brevo: HTTP %d", resp.StatusCode)
			}
		},
		retry.Attempts(b.attempts),
		retry.Delay(b.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(b.jitter),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.log.Info("retrying brevo send", logx.Uint64("attempt", uint64(n)), logx.Err(err))
		}),
	)
}
