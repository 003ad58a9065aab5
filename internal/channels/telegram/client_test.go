package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"serverwatch/internal/notifier"
	logx "serverwatch/pkg/logx"

	"github.com/stretchr/testify/require"
)

// fakeBotAPI answers getMe and sendMessage like the Bot API does.
type fakeBotAPI struct {
	mu    sync.Mutex
	texts []string
	chats []string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"watch","username":"watch_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.texts = append(f.texts, body["text"].(string))
		f.chats = append(f.chats, body["chat_id"].(string))
		n := len(f.texts)
		f.mu.Unlock()
		resp := map[string]any{"ok": true, "result": map[string]any{
			"message_id": 100 + n, "date": 0, "text": body["text"],
			"chat": map[string]any{"id": 42, "type": "private"},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}
}

func TestSendBeforeConnectIsUnavailable(t *testing.T) {
	c := New(Config{Enabled: true, Token: "t"}, logx.Nop())
	require.Equal(t, notifier.StatusUninitialized, c.Status())
	_, err := c.Send(context.Background(), "42", notifier.Message{Text: "hi"})
	require.ErrorIs(t, err, notifier.ErrChannelUnavailable)
}

func TestConnectAndSend(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	c := New(Config{Enabled: true, Token: "123:abc", APIURL: srv.URL}, logx.Nop())
	require.NoError(t, c.connect(context.Background()))
	require.Equal(t, notifier.StatusReady, c.Status())

	rc, err := c.Send(context.Background(), "42", notifier.Message{Title: "ignored", Text: "Survival is offline"})
	require.NoError(t, err)
	require.Equal(t, "101", rc.ID)
	require.NoError(t, c.Reply(context.Background(), 42, "pong"))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Equal(t, []string{"Survival is offline", "pong"}, api.texts)
	require.Equal(t, []string{"42", "42"}, api.chats)
}

func TestSendRejectsBadChatID(t *testing.T) {
	c := New(Config{Enabled: true, Token: "t"}, logx.Nop())
	_, err := c.Send(context.Background(), "@someone", notifier.Message{Text: "hi"})
	require.Error(t, err)
}

func TestConnectRequiresToken(t *testing.T) {
	c := New(Config{Enabled: true}, logx.Nop())
	require.Error(t, c.connect(context.Background()))
}

func TestStartDisabledIsNoop(t *testing.T) {
	c := New(Config{Enabled: false}, logx.Nop())
	require.NoError(t, c.Start(context.Background(), make(chan Update, 1)))
	require.Equal(t, notifier.StatusUninitialized, c.Status())
	require.NoError(t, c.Stop(context.Background()))
}

func TestForwardDropsWhenFull(t *testing.T) {
	c := New(Config{}, logx.Nop())
	out := make(chan Update, 1)
	c.out.Store((chan<- Update)(out))

	c.forward(Update{Text: "a"})
	c.forward(Update{Text: "b"})
	require.Equal(t, "a", (<-out).Text)
	require.Equal(t, uint64(1), c.droppedUpdates.Load())
}

func TestSplitText(t *testing.T) {
	require.Equal(t, []string{"short"}, splitText("short", 10))

	long := strings.Repeat("line\n", 10) // 50 runes
	parts := splitText(long, 12)
	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		require.LessOrEqual(t, len([]rune(p)), 12)
		require.False(t, strings.HasPrefix(p, "\n"))
	}
	require.Equal(t, strings.Repeat("line", 10), strings.ReplaceAll(strings.Join(parts, ""), "\n", ""))
}
