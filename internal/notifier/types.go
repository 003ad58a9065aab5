package notifier

import (
	"context"
	"errors"
	"time"
)

var ErrChannelUnavailable = errors.New("channel unavailable")

// Status is the readiness of a channel sender.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusConnecting    Status = "connecting"
	StatusReady         Status = "ready"
	StatusFailed        Status = "failed"
)

// Channel names.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
	ChannelWhatsApp = "whatsapp"
)

// Message is the rendered notification. Senders choose the representation
// they support (Text for chat channels, HTML for email).
type Message struct {
	Title string
	Text  string
	HTML  string
}

// Receipt is the provider acknowledgement of a delivered message.
type Receipt struct {
	ID string
	At time.Time
}

// Sender delivers messages on one channel.
type Sender interface {
	Name() string
	Status() Status
	Send(ctx context.Context, recipient string, msg Message) (Receipt, error)
}

// Config controls dispatch pacing.
type Config struct {
	// RatePerSec caps sends per channel. Zero uses the default.
	RatePerSec  int
	SendTimeout time.Duration
}

// ChannelInfo is the public view of a registered sender.
type ChannelInfo struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Enabled bool   `json:"enabled"`
}

// NotificationEvent is published on the event bus after each attempt.
type NotificationEvent struct {
	IncidentID string    `json:"incidentId"`
	Channel    string    `json:"channel"`
	Recipient  string    `json:"recipient"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}
