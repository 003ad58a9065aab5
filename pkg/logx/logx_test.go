package logx

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingSink) SendLog(_ context.Context, _ int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, text)
	return nil
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.WarnLevel, ParseLevel("WARNING", zerolog.InfoLevel))
	require.Equal(t, zerolog.DebugLevel, ParseLevel(" debug ", zerolog.InfoLevel))
	require.Equal(t, zerolog.InfoLevel, ParseLevel("", zerolog.InfoLevel))
	require.Equal(t, zerolog.ErrorLevel, ParseLevel("loud", zerolog.ErrorLevel))
}

func TestZeroAndNopLoggersAreSilent(t *testing.T) {
	var zero Logger
	require.True(t, zero.IsZero())
	zero.Error("dropped", String("k", "v"))

	n := Nop()
	require.False(t, n.IsZero())
	n.With(Int("n", 1)).Info("dropped")
}

func TestFileOutputIsJSONWithFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sw.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}}, nil)

	log.With(String("comp", "poller")).Warn("probe failed", Err(context.DeadlineExceeded), Duration("took", time.Second))
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(b))), &ev))
	require.Equal(t, "warn", ev["level"])
	require.Equal(t, "probe failed", ev["message"])
	require.Equal(t, "poller", ev["comp"])
	require.Contains(t, ev["err"], "deadline")
	require.Contains(t, ev["caller"], "logx_test.go:")
}

func TestApplyChangesLevelForExistingLoggers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sw.log")
	cfg := Config{Level: "error", File: FileConfig{Enabled: true, Path: path}}
	svc, log := New(cfg, nil)
	child := log.With(String("comp", "x"))

	child.Info("hidden")
	cfg.Level = "info"
	svc.Apply(cfg)
	child.Info("shown")
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(b), "hidden")
	require.Contains(t, string(b), "shown")
}

func TestChatForwarding(t *testing.T) {
	sink := &recordingSink{}
	svc, log := New(Config{
		Level:    "debug",
		File:     FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "sw.log")},
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	}, nil)
	defer svc.Close()

	log.Error("before sink")
	svc.SetSink(sink)
	log.Error("no target yet")
	svc.SetTelegramTarget(42)

	log.Info("below min level")
	log.Error("storage down", String("path", "/var/lib/sw.db"), Int("attempt", 3))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := sink.snapshot()[0]
	require.Equal(t, "[ERROR] storage down\nattempt=3\npath=/var/lib/sw.db", got)
}

func TestRenderChatLine(t *testing.T) {
	require.Equal(t, "plain text", renderChatLine([]byte(" plain text\n")))

	long := `{"level":"warn","message":"m","blob":"` + strings.Repeat("x", 2000) + `"}`
	out := renderChatLine([]byte(long))
	require.True(t, strings.HasPrefix(out, "[WARN] m\nblob=xxx"))
	require.True(t, strings.HasSuffix(out, "..."))
	require.Less(t, len(out), 700)
}
