package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "serverwatch/pkg/logx"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	t.Setenv("SW_TEST_TOKEN", "123:abc")
	p := writeFile(t, t.TempDir(), "serverwatch.yaml", `
logging:
  level: debug
telegram:
  enabled: true
  token: ${SW_TEST_TOKEN}
  owner_user_ids: [42]
monitor:
  targets:
    - name: Survival
      address: mc.example.org
      poll_interval: 30
`)
	cfg, err := NewConfigManager(p).Load()
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, []int64{42}, cfg.Telegram.OwnerUserIDs)
	require.Len(t, cfg.Monitor.Targets, 1)

	// Untouched sections keep their defaults.
	def := Default()
	require.Equal(t, def.Storage, cfg.Storage)
	require.Equal(t, "30m", cfg.Monitor.DedupWindow)
	require.Equal(t, "10s", cfg.Telegram.PollTimeout)
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	dir := t.TempDir()

	_, err := NewConfigManager(writeFile(t, dir, "a.json", `{"logging":{"levle":"info"}}`)).Parse()
	require.Error(t, err)

	_, err = NewConfigManager(writeFile(t, dir, "b.json", `{} {}`)).Parse()
	require.ErrorContains(t, err, "trailing data")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(&cfg))

	bad := Default()
	bad.Storage.Driver = "mongo"
	bad.Telegram.Enabled = true
	bad.Monitor.DedupWindow = "soon"
	bad.Email.Enabled = true
	bad.Email.Provider = "brevo"
	bad.Monitor.Targets = []SeedTarget{{Name: "x", Address: "y", Variant: "gopher", PollInterval: 5}}
	bad.HTTP.Addr = "0.0.0.0:8080"
	bad.HTTP.Pprof = true
	err := Validate(&bad)
	require.Error(t, err)
	for _, want := range []string{
		"storage.driver",
		"telegram.token",
		"monitor.dedup_window",
		"email.from",
		"email.brevo.api_key",
		"unknown variant",
		"poll_interval",
		"http.pprof",
	} {
		require.ErrorContains(t, err, want)
	}
}

func TestPprofOnLoopbackNeedsNoToken(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Pprof = true
	require.NoError(t, Validate(&cfg))

	cfg.HTTP.Addr = "[::1]:9000"
	require.NoError(t, Validate(&cfg))

	cfg.HTTP.Addr = ":8080"
	require.ErrorContains(t, Validate(&cfg), "http.pprof")

	cfg.HTTP.Token = "s3cret"
	require.NoError(t, Validate(&cfg))
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	ok, err := m.Reload(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	writeFile(t, dir, "c.json", `{"logging":{"level":"debug"}}`)
	ok, err = m.Reload(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "debug", (<-sub).Logging.Level)

	// Invalid configs are neither committed nor published.
	writeFile(t, dir, "c.json", `{"logging":{"level":"loud"}}`)
	_, err = m.Reload(ctx)
	require.Error(t, err)
	require.Equal(t, "debug", m.Get().Logging.Level)
	require.Empty(t, sub)
}

func TestSlowSubscriberGetsLatest(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.json", `{}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	for _, lvl := range []string{"debug", "warn", "error"} {
		writeFile(t, dir, "c.json", `{"logging":{"level":"`+lvl+`"}}`)
		ok, err := m.Reload(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Len(t, sub, 1)
	require.Equal(t, "error", (<-sub).Logging.Level)

	m.Unsubscribe(sub)
	_, open := <-sub
	require.False(t, open)
	m.Unsubscribe(sub)
}

func TestWatchPicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "w.json", `{"notifier":{"rate_per_sec":3}}`)
	m := NewConfigManager(p)
	m.SetLogger(logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.Eventually(t, func() bool {
		writeFile(t, dir, "w.json", `{"notifier":{"rate_per_sec":9}}`)
		select {
		case cfg := <-sub:
			return cfg.Notifier.RatePerSec == 9
		case <-time.After(300 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSummarizeConfigChange(t *testing.T) {
	a := Default()
	b := Default()
	b.Logging.Level = "debug"
	b.Telegram.OwnerUserIDs = []int64{1}
	b.HTTP.Token = "secret"

	sections, attrs := SummarizeConfigChange(&a, &b)
	require.Equal(t, []string{"logging", "http", "telegram.owners"}, sections)
	require.NotEmpty(t, attrs)
	require.Equal(t, []string{"http"}, RestartRequired(sections))

	sections, _ = SummarizeConfigChange(&a, &a)
	require.Empty(t, sections)
}
