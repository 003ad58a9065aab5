package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	storageDrivers = map[string]bool{"sqlite": true, "sqlite3": true, "file": true, "memory": true, "none": true}
	emailProviders = map[string]bool{"smtp": true, "brevo": true, "gmail": true, "mock": true}
	targetVariants = map[string]bool{"": true, "java": true, "bedrock": true, "tcp": true, "http": true}
)

// Validate reports every problem found in cfg, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when logging.file.enabled"))
	}
	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		add(errors.New("logging.telegram.chat_id is required when logging.telegram.enabled"))
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if !storageDrivers[driver] && driver != "" {
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if (driver == "sqlite" || driver == "sqlite3" || driver == "file") && strings.TrimSpace(cfg.Storage.Path) == "" {
		add(fmt.Errorf("storage.path is required when storage.driver=%s", driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if cfg.HTTP.Enabled {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(cfg.HTTP.Addr)); err != nil {
			add(fmt.Errorf("http.addr: %w", err))
		} else if cfg.HTTP.Pprof && strings.TrimSpace(cfg.HTTP.Token) == "" && !isLoopbackAddr(cfg.HTTP.Addr) {
			add(errors.New("http.pprof on a non-loopback addr requires http.token"))
		}
	}
	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)

	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required when telegram.enabled"))
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	if cfg.Email.Enabled {
		p := strings.ToLower(strings.TrimSpace(cfg.Email.Provider))
		if !emailProviders[p] {
			add(fmt.Errorf("email.provider: unknown provider %q", cfg.Email.Provider))
		}
		if strings.TrimSpace(cfg.Email.From) == "" {
			add(errors.New("email.from is required when email.enabled"))
		}
		if p == "smtp" && strings.TrimSpace(cfg.Email.SMTP.Host) == "" {
			add(errors.New("email.smtp.host is required for the smtp provider"))
		}
		if p == "brevo" && strings.TrimSpace(cfg.Email.Brevo.APIKey) == "" {
			add(errors.New("email.brevo.api_key is required for the brevo provider"))
		}
	}

	if cfg.WhatsApp.Enabled && (strings.TrimSpace(cfg.WhatsApp.Token) == "" || strings.TrimSpace(cfg.WhatsApp.PhoneNumberID) == "") {
		add(errors.New("whatsapp.token and whatsapp.phone_number_id are required when whatsapp.enabled"))
	}

	dur("probe.timeout", cfg.Probe.Timeout)
	dur("monitor.dedup_window", cfg.Monitor.DedupWindow)
	dur("monitor.recovery_interval", cfg.Monitor.RecoveryInterval)
	dur("notifier.send_timeout", cfg.Notifier.SendTimeout)
	if cfg.Notifier.RatePerSec < 0 {
		add(errors.New("notifier.rate_per_sec must be >= 0"))
	}

	for i, t := range cfg.Monitor.Targets {
		path := fmt.Sprintf("monitor.targets[%d]", i)
		if strings.TrimSpace(t.Name) == "" || strings.TrimSpace(t.Address) == "" {
			add(fmt.Errorf("%s: name and address are required", path))
		}
		if !targetVariants[strings.ToLower(strings.TrimSpace(t.Variant))] {
			add(fmt.Errorf("%s: unknown variant %q", path, t.Variant))
		}
		if t.PollInterval != 0 && t.PollInterval < 10 {
			add(fmt.Errorf("%s: poll_interval must be >= 10 seconds", path))
		}
	}
	return errors.Join(errs...)
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
