// Package whatsapp delivers notifications through the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"serverwatch/internal/notifier"
	logx "serverwatch/pkg/logx"

	"github.com/codeGROOVE-dev/retry"
)

type Config struct {
	Enabled       bool
	Token         string
	PhoneNumberID string
	APIBase       string // defaults to https://graph.facebook.com/v19.0
	// VerifyOnInit looks up the phone number before marking the channel ready.
	VerifyOnInit bool
}

// Client implements notifier.Sender.
type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	attempts uint
	delay    time.Duration
	jitter   time.Duration

	mu     sync.RWMutex
	status notifier.Status
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://graph.facebook.com/v19.0"
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "whatsapp")),
		http:     &http.Client{Timeout: 20 * time.Second},
		attempts: 3,
		delay:    time.Second,
		jitter:   2 * time.Second,
		status:   notifier.StatusUninitialized,
	}
}

func (c *Client) Name() string { return notifier.ChannelWhatsApp }

func (c *Client) Status() notifier.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) setStatus(s notifier.Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Init validates credentials. A disabled channel stays uninitialized.
func (c *Client) Init(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(c.cfg.Token) == "" || strings.TrimSpace(c.cfg.PhoneNumberID) == "" {
		c.setStatus(notifier.StatusFailed)
		return errors.New("whatsapp token and phone number id are required")
	}
	c.setStatus(notifier.StatusConnecting)

	if c.cfg.VerifyOnInit {
		var phone struct {
			Display string `json:"display_phone_number"`
		}
		if err := c.do(ctx, http.MethodGet, "/"+c.cfg.PhoneNumberID, nil, &phone); err != nil {
			c.setStatus(notifier.StatusFailed)
			c.log.Error("whatsapp verify failed", logx.Err(err))
			return err
		}
		c.log.Info("whatsapp number verified", logx.String("number", phone.Display))
	}

	c.setStatus(notifier.StatusReady)
	c.log.Info("whatsapp ready")
	return nil
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body       string `json:"body"`
		PreviewURL bool   `json:"preview_url"`
	} `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send delivers msg.Text to a phone number in international format.
func (c *Client) Send(ctx context.Context, recipient string, msg notifier.Message) (notifier.Receipt, error) {
	if c.Status() != notifier.StatusReady {
		return notifier.Receipt{}, notifier.ErrChannelUnavailable
	}
	to := normalizeNumber(recipient)
	if to == "" {
		return notifier.Receipt{}, fmt.Errorf("invalid whatsapp recipient %q", recipient)
	}

	body := textMessage{MessagingProduct: "whatsapp", To: to, Type: "text"}
	body.Text.Body = msg.Text

	var out sendResponse
	if err := c.do(ctx, http.MethodPost, "/"+c.cfg.PhoneNumberID+"/messages", body, &out); err != nil {
		return notifier.Receipt{}, err
	}
	r := notifier.Receipt{At: time.Now()}
	if len(out.Messages) > 0 {
		r.ID = out.Messages[0].ID
	}
	return r, nil
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = b
	}

	return retry.Do(
		func() error {
			var body io.Reader
			if payload != nil {
				body = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBase+path, body)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
			if payload != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

			if resp.StatusCode/100 != 2 {
				var ae apiError
				_ = json.Unmarshal(raw, &ae)
				err := fmt.Errorf("whatsapp: HTTP %d", resp.StatusCode)
				if ae.Error.Message != "" {
					err = fmt.Errorf("whatsapp: %s (code=%d http=%d)", ae.Error.Message, ae.Error.Code, resp.StatusCode)
				}
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(err)
				}
				return err
			}
			if out != nil && len(raw) > 0 {
				if err := json.Unmarshal(raw, out); err != nil {
					return retry.Unrecoverable(fmt.Errorf("whatsapp: decode: %w", err))
				}
			}
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(c.jitter),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.log.Info("retrying whatsapp request", logx.Uint64("attempt", uint64(n)), logx.String("path", path), logx.Err(err))
		}),
	)
}

// normalizeNumber strips everything but digits; the Cloud API expects E.164 without "+".
func normalizeNumber(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
