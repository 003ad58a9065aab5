package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"serverwatch/internal/notifier"
	logx "serverwatch/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{Enabled: true, Token: "tok", PhoneNumberID: "123", APIBase: srv.URL, VerifyOnInit: true}, logx.Nop())
	c.delay, c.jitter = time.Millisecond, time.Millisecond
	return c
}

func TestInitAndSend(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/123":
			_, _ = w.Write([]byte(`{"display_phone_number":"+1 555 0100"}`))
		case "/123/messages":
			var m textMessage
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
			assert.Equal(t, "15550199", m.To)
			assert.Equal(t, "whatsapp", m.MessagingProduct)
			assert.Equal(t, "server down", m.Text.Body)
			_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))

	_, err := c.Send(context.Background(), "+1 555 0199", notifier.Message{Text: "server down"})
	require.ErrorIs(t, err, notifier.ErrChannelUnavailable)

	require.NoError(t, c.Init(context.Background()))
	require.Equal(t, notifier.StatusReady, c.Status())

	rc, err := c.Send(context.Background(), "+1 555 0199", notifier.Message{Text: "server down"})
	require.NoError(t, err)
	require.Equal(t, "wamid.1", rc.ID)
}

func TestInitFailsWithoutCredentials(t *testing.T) {
	c := New(Config{Enabled: true}, logx.Nop())
	require.Error(t, c.Init(context.Background()))
	require.Equal(t, notifier.StatusFailed, c.Status())
}

func TestSendClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/123" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Recipient phone number not in allowed list","code":131030}}`))
	}))
	require.NoError(t, c.Init(context.Background()))

	_, err := c.Send(context.Background(), "15550199", notifier.Message{Text: "x"})
	require.ErrorContains(t, err, "not in allowed list")
	require.Equal(t, int32(1), calls.Load())
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/123" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.3"}]}`))
	}))
	require.NoError(t, c.Init(context.Background()))

	rc, err := c.Send(context.Background(), "15550199", notifier.Message{Text: "x"})
	require.NoError(t, err)
	require.Equal(t, "wamid.3", rc.ID)
	require.Equal(t, int32(3), calls.Load())
}

func TestNormalizeNumber(t *testing.T) {
	require.Equal(t, "6281234567", normalizeNumber("+62 812-3456-7"))
	require.Equal(t, "", normalizeNumber("n/a"))
}
