package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	logx "serverwatch/pkg/logx"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

type GmailConfig struct {
	// CredentialsJSON or CredentialsFile; when both are empty Application
	// Default Credentials are used.
	CredentialsJSON string
	CredentialsFile string
}

// GmailProvider sends emails through the Gmail API as the authenticated account.
type GmailProvider struct {
	service *gmail.Service
	log     logx.Logger
}

func NewGmailProvider(ctx context.Context, cfg GmailConfig, log logx.Logger) (*GmailProvider, error) {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, option.WithScopes(gmail.GmailSendScope))

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &GmailProvider{service: svc, log: log}, nil
}

func (g *GmailProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	raw := base64.URLEncoding.EncodeToString([]byte(buildMIME("", to, subject, htmlBody)))

	return retry.Do(
		func() error {
			start := time.Now()
			_, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
			if err != nil {
				return err
			}
			g.log.Debug("gmail sent", logx.String("to", to), logx.Duration("took", time.Since(start)))
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.log.Info("retrying gmail send", logx.Uint64("attempt", uint64(n)), logx.Err(err))
		}),
	)
}
