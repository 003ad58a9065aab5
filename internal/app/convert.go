package app

import (
	"strings"
	"time"

	"serverwatch/internal/bot"
	"serverwatch/internal/channels/email"
	"serverwatch/internal/channels/telegram"
	"serverwatch/internal/channels/whatsapp"
	"serverwatch/internal/config"
	"serverwatch/internal/httpapi"
	"serverwatch/internal/incident"
	"serverwatch/internal/notifier"
	"serverwatch/internal/probe"
	"serverwatch/internal/storage"
	logx "serverwatch/pkg/logx"
)

// Mappers from the file config to component configs. Durations were checked
// by config.Validate, so parse errors are returned but not expected.

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Enabled:     cfg.Telegram.Enabled,
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		APIURL:      cfg.Telegram.APIURL,
		PollTimeout: poll,
	}, nil
}

func mapEmail(cfg *config.Config) email.Config {
	e := cfg.Email
	return email.Config{
		Enabled:  e.Enabled,
		Provider: e.Provider,
		From:     e.From,
		FromName: e.FromName,
		SMTP:     email.SMTPConfig{Host: e.SMTP.Host, Port: e.SMTP.Port, Username: e.SMTP.Username, Password: e.SMTP.Password},
		Brevo:    email.BrevoConfig{APIKey: e.Brevo.APIKey, Endpoint: e.Brevo.Endpoint},
		Gmail:    email.GmailConfig{CredentialsJSON: e.Gmail.CredentialsJSON, CredentialsFile: e.Gmail.CredentialsFile},
	}
}

func mapWhatsApp(cfg *config.Config) whatsapp.Config {
	w := cfg.WhatsApp
	return whatsapp.Config{
		Enabled:       w.Enabled,
		Token:         w.Token,
		PhoneNumberID: w.PhoneNumberID,
		APIBase:       w.APIBase,
		VerifyOnInit:  w.VerifyOnInit,
	}
}

func mapProbe(cfg *config.Config) (probe.Config, error) {
	timeout, err := config.ParseDurationOrDefault("probe.timeout", cfg.Probe.Timeout, probe.DefaultTimeout)
	if err != nil {
		return probe.Config{}, err
	}
	return probe.Config{StatusAPI: cfg.Probe.StatusAPI, Timeout: timeout, UserAgent: cfg.Probe.UserAgent}, nil
}

func mapLedger(cfg *config.Config) (incident.Options, error) {
	window, err := config.ParseDurationOrDefault("monitor.dedup_window", cfg.Monitor.DedupWindow, incident.DefaultDedupWindow)
	if err != nil {
		return incident.Options{}, err
	}
	every, err := config.ParseDurationOrDefault("monitor.recovery_interval", cfg.Monitor.RecoveryInterval, incident.DefaultRecoveryInterval)
	if err != nil {
		return incident.Options{}, err
	}
	return incident.Options{DedupWindow: window, RecoveryInterval: every}, nil
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	timeout, err := config.ParseDurationOrDefault("notifier.send_timeout", cfg.Notifier.SendTimeout, 30*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{RatePerSec: cfg.Notifier.RatePerSec, SendTimeout: timeout}, nil
}

func mapHTTP(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	shutdown, err := config.ParseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 5*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:            cfg.HTTP.Addr,
		Token:           cfg.HTTP.Token,
		ReadTimeout:     read,
		ShutdownTimeout: shutdown,
		Pprof:           cfg.HTTP.Pprof,
	}, nil
}

func mapBot(cfg *config.Config) bot.Config {
	return bot.Config{OwnerIDs: cfg.Telegram.OwnerUserIDs}
}
