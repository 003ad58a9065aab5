package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"serverwatch/internal/model"
	logx "serverwatch/pkg/logx"

	"github.com/stretchr/testify/require"
)

func drivers(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "sw.db")}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
		"file": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "sw.json")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
	}
}

func newTarget(id string, active bool) model.Target {
	now := time.Now().Truncate(time.Millisecond)
	return model.Target{
		ID: id, Name: "srv " + id, Address: "mc.example.org", Variant: model.VariantJava,
		PollInterval: 60, Active: active, CreatedAt: now, UpdatedAt: now,
	}
}

func TestStoreTargets(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)

			require.NoError(t, st.CreateTarget(ctx, newTarget("a", true)))
			require.NoError(t, st.CreateTarget(ctx, newTarget("b", false)))
			err := st.CreateTarget(ctx, newTarget("a", true))
			require.True(t, errors.Is(err, ErrConflict), "got %v", err)

			active, err := st.ListTargets(ctx, true)
			require.NoError(t, err)
			require.Len(t, active, 1)
			require.Equal(t, "a", active[0].ID)

			all, err := st.ListTargets(ctx, false)
			require.NoError(t, err)
			require.Len(t, all, 2)

			_, err = st.GetTarget(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			upd := newTarget("b", true)
			upd.Name = "renamed"
			require.NoError(t, st.UpdateTarget(ctx, upd))
			got, err := st.GetTarget(ctx, "b")
			require.NoError(t, err)
			require.Equal(t, "renamed", got.Name)
			require.True(t, got.Active)

			require.NoError(t, st.DeleteTarget(ctx, "b"))
			require.ErrorIs(t, st.DeleteTarget(ctx, "b"), ErrNotFound)
		})
	}
}

func TestStoreRecordCheck(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			require.NoError(t, st.CreateTarget(ctx, newTarget("a", true)))

			at := time.Now().Truncate(time.Millisecond)
			_, err := st.RecordCheck(ctx, "a", model.ProbeResult{Healthy: true, Latency: 40 * time.Millisecond, CheckedAt: at}, 60)
			require.NoError(t, err)
			got, err := st.RecordCheck(ctx, "a", model.ProbeResult{Healthy: false, Error: "timeout", CheckedAt: at}, 60)
			require.NoError(t, err)

			require.Equal(t, int64(2), got.Stats.TotalChecks)
			require.Equal(t, int64(1), got.Stats.UptimeChecks)
			require.Equal(t, int64(60), got.Stats.TotalDowntime)
			require.NotNil(t, got.LastStatus)
			require.False(t, got.LastStatus.Healthy)
			require.Equal(t, "timeout", got.LastStatus.Error)

			_, err = st.RecordCheck(ctx, "missing", model.ProbeResult{CheckedAt: at}, 60)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreIncidentLifecycle(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			now := time.Now().Truncate(time.Millisecond)

			old := model.Incident{ID: "old", TargetID: "a", Kind: model.KindTargetOffline, Title: "down",
				Severity: model.SeverityCritical, Status: model.IncidentActive,
				CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)}
			fresh := old
			fresh.ID, fresh.CreatedAt, fresh.UpdatedAt = "fresh", now.Add(-5*time.Minute), now.Add(-5*time.Minute)
			require.NoError(t, st.CreateIncident(ctx, old))
			require.NoError(t, st.CreateIncident(ctx, fresh))

			got, err := st.FindActiveIncident(ctx, "a", model.KindTargetOffline, now.Add(-30*time.Minute))
			require.NoError(t, err)
			require.Equal(t, "fresh", got.ID)

			_, err = st.FindActiveIncident(ctx, "a", model.KindHighLatency, now.Add(-30*time.Minute))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, st.TouchIncident(ctx, "fresh", now))
			require.NoError(t, st.MarkIncidentNotified(ctx, "fresh"))
			got, err = st.GetIncident(ctx, "fresh")
			require.NoError(t, err)
			require.True(t, got.UpdatedAt.Equal(now))
			require.True(t, got.NotificationsSent)

			ok, err := st.ResolveIncident(ctx, "fresh", now)
			require.NoError(t, err)
			require.True(t, ok)
			ok, err = st.ResolveIncident(ctx, "fresh", now.Add(time.Minute))
			require.NoError(t, err)
			require.False(t, ok)
			_, err = st.ResolveIncident(ctx, "nope", now)
			require.ErrorIs(t, err, ErrNotFound)

			got, err = st.GetIncident(ctx, "fresh")
			require.NoError(t, err)
			require.Equal(t, model.IncidentResolved, got.Status)
			require.NotNil(t, got.ResolvedAt)
			require.True(t, got.ResolvedAt.Equal(now))

			active, err := st.ListIncidents(ctx, IncidentFilter{Status: string(model.IncidentActive)})
			require.NoError(t, err)
			require.Len(t, active, 1)
			require.Equal(t, "old", active[0].ID)
		})
	}
}

func TestStoreNotificationsSettingsSubscriptions(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			now := time.Now().Truncate(time.Millisecond)

			require.NoError(t, st.AppendNotification(ctx, model.NotificationRecord{ID: "n1", IncidentID: "i1", Channel: "email",
				Title: "t", Message: "m", Recipient: "ops@example.org", Status: model.NotificationSent, SentAt: now}))
			require.NoError(t, st.AppendNotification(ctx, model.NotificationRecord{ID: "n2", IncidentID: "i2", Channel: "telegram",
				Title: "t", Message: "m", Recipient: "42", Status: model.NotificationFailed, Error: "blocked", SentAt: now.Add(time.Second)}))
			recs, err := st.ListNotifications(ctx, NotificationFilter{IncidentID: "i2"})
			require.NoError(t, err)
			require.Len(t, recs, 1)
			require.Equal(t, "blocked", recs[0].Error)

			_, ok, err := st.GetSetting(ctx, "notify_info")
			require.NoError(t, err)
			require.False(t, ok)
			require.NoError(t, st.PutSetting(ctx, "notify_info", "false"))
			require.NoError(t, st.PutSetting(ctx, "notify_info", "true"))
			v, ok, err := st.GetSetting(ctx, "notify_info")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "true", v)
			all, err := st.ListSettings(ctx)
			require.NoError(t, err)
			require.Equal(t, map[string]string{"notify_info": "true"}, all)

			require.NoError(t, st.UpsertSubscription(ctx, model.Subscription{Channel: "telegram", Recipient: "1", WantsNotifications: true}))
			require.NoError(t, st.UpsertSubscription(ctx, model.Subscription{Channel: "telegram", Recipient: "2", WantsNotifications: true}))
			require.NoError(t, st.SetSubscriptionWants(ctx, "telegram", "2", false))
			// Re-registering keeps the opt-out.
			require.NoError(t, st.UpsertSubscription(ctx, model.Subscription{Channel: "telegram", Recipient: "2", WantsNotifications: true, DisplayName: "bob"}))
			require.ErrorIs(t, st.SetSubscriptionWants(ctx, "telegram", "3", true), ErrNotFound)

			subs, err := st.ListSubscriptions(ctx, "telegram", true)
			require.NoError(t, err)
			require.Len(t, subs, 1)
			require.Equal(t, "1", subs[0].Recipient)

			subs, err = st.ListSubscriptions(ctx, "telegram", false)
			require.NoError(t, err)
			require.Len(t, subs, 2)
		})
	}
}

func TestFileStoreReloadsSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sw.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.CreateTarget(ctx, newTarget("a", true)))
	require.NoError(t, st.PutSetting(ctx, "admin_email", "ops@example.org"))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	got, err := st.GetTarget(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "srv a", got.Name)
	v, ok, err := st.GetSetting(ctx, "admin_email")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ops@example.org", v)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "none"}, logx.Nop())
	require.ErrorIs(t, err, ErrDisabled)
}
