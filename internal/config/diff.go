package config

import (
	"reflect"
	"strings"

	logx "serverwatch/pkg/logx"
)

// liveSections are applied without a restart.
var liveSections = map[string]bool{"logging": true, "notifier": true, "telegram.owners": true}

// SummarizeConfigChange returns the changed sections and safe structured
// fields for logging. Secrets (tokens, passwords, API keys) are only reported
// as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram.owners")
		attrs = append(attrs, logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)))
	}
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	ot.OwnerUserIDs, nt.OwnerUserIDs = nil, nil
	if !reflect.DeepEqual(ot, nt) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.String("telegram.poll_timeout", nt.PollTimeout),
		)
	}

	if !reflect.DeepEqual(oldCfg.Email, newCfg.Email) {
		changed = append(changed, "email")
		attrs = append(attrs,
			logx.Bool("email.enabled", newCfg.Email.Enabled),
			logx.String("email.provider", newCfg.Email.Provider),
		)
	}

	if !reflect.DeepEqual(oldCfg.WhatsApp, newCfg.WhatsApp) {
		changed = append(changed, "whatsapp")
		attrs = append(attrs,
			logx.Bool("whatsapp.enabled", newCfg.WhatsApp.Enabled),
			logx.Bool("whatsapp.token_set", strings.TrimSpace(newCfg.WhatsApp.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Probe, newCfg.Probe) {
		changed = append(changed, "probe")
		attrs = append(attrs, logx.String("probe.timeout", newCfg.Probe.Timeout))
	}

	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.String("monitor.dedup_window", newCfg.Monitor.DedupWindow),
			logx.String("monitor.recovery_interval", newCfg.Monitor.RecoveryInterval),
			logx.Int("monitor.seed_targets", len(newCfg.Monitor.Targets)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.String("notifier.send_timeout", newCfg.Notifier.SendTimeout),
		)
	}

	return changed, attrs
}

// RestartRequired filters sections down to those that only take effect after
// a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if !liveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
