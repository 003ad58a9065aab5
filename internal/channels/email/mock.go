package email

import (
	"context"
	"sync"

	logx "serverwatch/pkg/logx"
)

// SentMail is one message captured by MockProvider.
type SentMail struct {
	To, Subject, HTML string
}

// MockProvider logs emails instead of sending them.
type MockProvider struct {
	log logx.Logger

	mu   sync.Mutex
	sent []SentMail
}

func NewMockProvider(log logx.Logger) *MockProvider {
	return &MockProvider{log: log}
}

func (m *MockProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	m.mu.Lock()
	m.sent = append(m.sent, SentMail{To: to, Subject: subject, HTML: htmlBody})
	m.mu.Unlock()
	m.log.Info("mock email", logx.String("to", to), logx.String("subject", subject), logx.Int("body_len", len(htmlBody)))
	return nil
}

func (m *MockProvider) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMail(nil), m.sent...)
}
