package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"serverwatch/internal/model"
	"serverwatch/internal/settings"
	"serverwatch/internal/storage"
	logx "serverwatch/pkg/logx"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name   string
	status Status
	fail   map[string]error

	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Name() string   { return f.name }
func (f *fakeSender) Status() Status { return f.status }

func (f *fakeSender) Send(ctx context.Context, recipient string, msg Message) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[recipient]; err != nil {
		return Receipt{}, err
	}
	f.sent = append(f.sent, recipient)
	return Receipt{ID: "r-" + recipient, At: time.Now()}, nil
}

type staticSettings struct{ s settings.Settings }

func (s staticSettings) Get() settings.Settings { return s.s }

func baseSettings() settings.Settings {
	s := settings.Defaults()
	s.AdminEmail = "ops@example.org"
	s.AdminWhatsApp = "+15550100"
	return s
}

type fixture struct {
	store    *storage.Memory
	email    *fakeSender
	telegram *fakeSender
	whatsapp *fakeSender
	inc      model.Incident
	target   model.Target
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:    storage.NewMemory(),
		email:    &fakeSender{name: ChannelEmail, status: StatusReady},
		telegram: &fakeSender{name: ChannelTelegram, status: StatusReady},
		whatsapp: &fakeSender{name: ChannelWhatsApp, status: StatusReady},
		target:   model.Target{ID: "t1", Name: "Survival", Address: "mc.example.org"},
	}
	f.inc = model.Incident{ID: "i1", TargetID: "t1", Kind: model.KindTargetOffline, Title: "Survival is offline",
		Severity: model.SeverityCritical, Status: model.IncidentActive, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, f.store.CreateIncident(ctx, f.inc))
	for _, id := range []string{"100", "200"} {
		require.NoError(t, f.store.UpsertSubscription(ctx, model.Subscription{Channel: ChannelTelegram, Recipient: id, WantsNotifications: true}))
	}
	require.NoError(t, f.store.UpsertSubscription(ctx, model.Subscription{Channel: ChannelTelegram, Recipient: "300", WantsNotifications: false}))
	return f
}

func (f *fixture) dispatcher(s settings.Settings) *Dispatcher {
	return New(Config{RatePerSec: 100}, f.store, staticSettings{s}, nil, logx.Nop(), f.email, f.telegram, f.whatsapp)
}

func (f *fixture) records(t *testing.T) []model.NotificationRecord {
	t.Helper()
	recs, err := f.store.ListNotifications(context.Background(), storage.NotificationFilter{IncidentID: f.inc.ID})
	require.NoError(t, err)
	return recs
}

func TestNotifyFansOutToEveryReadyChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.dispatcher(baseSettings()).Notify(ctx, f.inc, f.target))

	require.Equal(t, []string{"ops@example.org"}, f.email.sent)
	require.Equal(t, []string{"100", "200"}, f.telegram.sent)
	require.Equal(t, []string{"+15550100"}, f.whatsapp.sent)
	require.Len(t, f.records(t), 4)

	inc, err := f.store.GetIncident(ctx, f.inc.ID)
	require.NoError(t, err)
	require.True(t, inc.NotificationsSent)
}

func TestNotifyFailureDoesNotAbortFanOut(t *testing.T) {
	f := newFixture(t)
	f.email.fail = map[string]error{"ops@example.org": errors.New("smtp 550")}
	f.telegram.fail = map[string]error{"100": errors.New("bot was blocked by the user")}

	require.NoError(t, f.dispatcher(baseSettings()).Notify(context.Background(), f.inc, f.target))

	require.Equal(t, []string{"200"}, f.telegram.sent)
	require.Equal(t, []string{"+15550100"}, f.whatsapp.sent)

	byKey := map[string]model.NotificationRecord{}
	for _, r := range f.records(t) {
		byKey[r.Channel+"/"+r.Recipient] = r
	}
	require.Len(t, byKey, 4)
	require.Equal(t, model.NotificationFailed, byKey["email/ops@example.org"].Status)
	require.Equal(t, "smtp 550", byKey["email/ops@example.org"].Error)
	require.Equal(t, model.NotificationFailed, byKey["telegram/100"].Status)
	require.Equal(t, model.NotificationSent, byKey["telegram/200"].Status)
	require.Equal(t, model.NotificationSent, byKey["whatsapp/+15550100"].Status)
}

func TestNotifySeverityGating(t *testing.T) {
	f := newFixture(t)
	s := baseSettings()
	s.NotifyCritical = false

	require.NoError(t, f.dispatcher(s).Notify(context.Background(), f.inc, f.target))
	require.Empty(t, f.records(t))
	require.Empty(t, f.email.sent)

	inc, err := f.store.GetIncident(context.Background(), f.inc.ID)
	require.NoError(t, err)
	require.False(t, inc.NotificationsSent)
}

func TestNotifySkipsDisabledAndUnreadyChannels(t *testing.T) {
	f := newFixture(t)
	f.whatsapp.status = StatusConnecting
	s := baseSettings()
	s.EmailEnabled = false

	require.NoError(t, f.dispatcher(s).Notify(context.Background(), f.inc, f.target))

	require.Empty(t, f.email.sent)
	require.Empty(t, f.whatsapp.sent)
	recs := f.records(t)
	require.Len(t, recs, 2)
	for _, r := range recs {
		require.Equal(t, ChannelTelegram, r.Channel)
	}
}

func TestNotifyWithoutAdminRecipients(t *testing.T) {
	f := newFixture(t)
	s := settings.Defaults()

	require.NoError(t, f.dispatcher(s).Notify(context.Background(), f.inc, f.target))
	require.Empty(t, f.email.sent)
	require.Empty(t, f.whatsapp.sent)
	require.Len(t, f.records(t), 2)
}

func TestNotifyRecoveryIncludesDowntime(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	inc := f.inc
	inc.CreatedAt = start
	inc.Status = model.IncidentResolved
	inc.ResolvedAt = &end

	d := f.dispatcher(baseSettings())
	require.NoError(t, d.NotifyRecovery(context.Background(), inc, f.target))

	recs := f.records(t)
	require.Len(t, recs, 4)
	for _, r := range recs {
		require.Contains(t, r.Title, "RESOLVED")
		require.Contains(t, r.Message, "Downtime: 1h 30m")
	}
}

func TestChannels(t *testing.T) {
	f := newFixture(t)
	f.whatsapp.status = StatusFailed
	s := baseSettings()
	s.TelegramEnabled = false

	got := f.dispatcher(s).Channels()
	require.Equal(t, []ChannelInfo{
		{Name: ChannelEmail, Status: StatusReady, Enabled: true},
		{Name: ChannelTelegram, Status: StatusReady, Enabled: false},
		{Name: ChannelWhatsApp, Status: StatusFailed, Enabled: true},
	}, got)
}

func TestFormatDowntime(t *testing.T) {
	require.Equal(t, "45s", formatDowntime(45*time.Second))
	require.Equal(t, "12m", formatDowntime(12*time.Minute))
	require.Equal(t, "2h 5m", formatDowntime(125*time.Minute))
}
