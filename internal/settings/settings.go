// Package settings exposes the runtime settings kept in the store as a typed object.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	logx "serverwatch/pkg/logx"
)

// ErrInvalid wraps every rejected key or value passed to Update.
var ErrInvalid = errors.New("invalid setting")

// Keys as stored in the settings table.
const (
	KeyEmailEnabled       = "email_enabled"
	KeyTelegramEnabled    = "telegram_enabled"
	KeyWhatsAppEnabled    = "whatsapp_enabled"
	KeyNotifyCritical     = "notify_critical"
	KeyNotifyWarning      = "notify_warning"
	KeyNotifyInfo         = "notify_info"
	KeyAdminEmail         = "admin_email"
	KeyAdminWhatsApp      = "admin_whatsapp"
	KeyDefaultPoll        = "default_poll_interval"
	KeyMinProtocolVersion = "min_protocol_version"
)

// Settings is a consistent view of the runtime settings.
type Settings struct {
	EmailEnabled       bool   `json:"emailEnabled"`
	TelegramEnabled    bool   `json:"telegramEnabled"`
	WhatsAppEnabled    bool   `json:"whatsappEnabled"`
	NotifyCritical     bool   `json:"notifyCritical"`
	NotifyWarning      bool   `json:"notifyWarning"`
	NotifyInfo         bool   `json:"notifyInfo"`
	AdminEmail         string `json:"adminEmail"`
	AdminWhatsApp      string `json:"adminWhatsapp"`
	DefaultPoll        int    `json:"defaultPollInterval"` // seconds
	MinProtocolVersion int    `json:"minProtocolVersion"`
}

// Defaults are used for keys that were never written.
func Defaults() Settings {
	return Settings{
		EmailEnabled:       true,
		TelegramEnabled:    true,
		WhatsAppEnabled:    true,
		NotifyCritical:     true,
		NotifyWarning:      true,
		NotifyInfo:         false,
		DefaultPoll:        60,
		MinProtocolVersion: 0,
	}
}

// NotifyFor reports whether incidents of the given severity should be dispatched.
func (s Settings) NotifyFor(severity string) bool {
	switch severity {
	case "critical":
		return s.NotifyCritical
	case "warning":
		return s.NotifyWarning
	case "info":
		return s.NotifyInfo
	default:
		return false
	}
}

// ChannelEnabled reports the enable flag for a channel name.
func (s Settings) ChannelEnabled(channel string) bool {
	switch channel {
	case "email":
		return s.EmailEnabled
	case "telegram":
		return s.TelegramEnabled
	case "whatsapp":
		return s.WhatsAppEnabled
	default:
		return false
	}
}

// KV is the slice of the store the settings layer needs.
type KV interface {
	ListSettings(ctx context.Context) (map[string]string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Manager caches Settings and refreshes them from the store on demand.
type Manager struct {
	kv  KV
	log logx.Logger

	mu  sync.RWMutex
	cur Settings
}

func NewManager(kv KV, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{kv: kv, log: log.With(logx.String("comp", "settings")), cur: Defaults()}
}

// Get returns the cached settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Refresh reloads settings from the store. Malformed values fall back to defaults.
func (m *Manager) Refresh(ctx context.Context) (Settings, error) {
	raw, err := m.kv.ListSettings(ctx)
	if err != nil {
		return m.Get(), fmt.Errorf("load settings: %w", err)
	}
	s := m.decode(raw)
	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
	return s, nil
}

// Update writes the given key/value pairs, then refreshes the cache.
// Unknown keys and values that do not parse for their key are rejected before any write.
func (m *Manager) Update(ctx context.Context, kv map[string]string) (Settings, error) {
	for k, v := range kv {
		if err := validate(k, v); err != nil {
			return m.Get(), err
		}
	}
	for k, v := range kv {
		if err := m.kv.PutSetting(ctx, k, strings.TrimSpace(v)); err != nil {
			return m.Get(), fmt.Errorf("put setting %s: %w", k, err)
		}
	}
	m.log.Info("settings updated", logx.Int("keys", len(kv)))
	return m.Refresh(ctx)
}

func (m *Manager) decode(raw map[string]string) Settings {
	s := Defaults()
	boolField := func(key string, dst *bool) {
		v, ok := raw[key]
		if !ok {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			m.log.Warn("invalid bool setting", logx.String("key", key), logx.String("value", v))
			return
		}
		*dst = b
	}
	intField := func(key string, dst *int) {
		v, ok := raw[key]
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			m.log.Warn("invalid int setting", logx.String("key", key), logx.String("value", v))
			return
		}
		*dst = n
	}

	boolField(KeyEmailEnabled, &s.EmailEnabled)
	boolField(KeyTelegramEnabled, &s.TelegramEnabled)
	boolField(KeyWhatsAppEnabled, &s.WhatsAppEnabled)
	boolField(KeyNotifyCritical, &s.NotifyCritical)
	boolField(KeyNotifyWarning, &s.NotifyWarning)
	boolField(KeyNotifyInfo, &s.NotifyInfo)
	intField(KeyDefaultPoll, &s.DefaultPoll)
	intField(KeyMinProtocolVersion, &s.MinProtocolVersion)
	s.AdminEmail = strings.TrimSpace(raw[KeyAdminEmail])
	s.AdminWhatsApp = strings.TrimSpace(raw[KeyAdminWhatsApp])
	if s.DefaultPoll == 0 {
		s.DefaultPoll = Defaults().DefaultPoll
	}
	return s
}

func validate(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case KeyEmailEnabled, KeyTelegramEnabled, KeyWhatsAppEnabled, KeyNotifyCritical, KeyNotifyWarning, KeyNotifyInfo:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%w: %s: expected boolean, got %q", ErrInvalid, key, value)
		}
	case KeyDefaultPoll:
		n, err := strconv.Atoi(value)
		if err != nil || n < 10 {
			return fmt.Errorf("%w: %s: expected integer >= 10, got %q", ErrInvalid, key, value)
		}
	case KeyMinProtocolVersion:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: %s: expected integer >= 0, got %q", ErrInvalid, key, value)
		}
	case KeyAdminEmail, KeyAdminWhatsApp:
	default:
		return fmt.Errorf("%w: unknown key %q", ErrInvalid, key)
	}
	return nil
}
