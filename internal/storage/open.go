package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"serverwatch/internal/model"
	logx "serverwatch/pkg/logx"
)

// Store is the persistence API used by the monitoring engine and the admin surfaces.
//
// Single-record getters return ErrNotFound when nothing matches.
type Store interface {
	ListTargets(ctx context.Context, activeOnly bool) ([]model.Target, error)
	GetTarget(ctx context.Context, id string) (model.Target, error)
	CreateTarget(ctx context.Context, t model.Target) error
	UpdateTarget(ctx context.Context, t model.Target) error
	DeleteTarget(ctx context.Context, id string) error
	// RecordCheck stores the latest probe result and bumps the target's counters.
	// downtime is added to TotalDowntime (seconds) when the result is unhealthy.
	RecordCheck(ctx context.Context, id string, res model.ProbeResult, downtime int64) (model.Target, error)

	CreateIncident(ctx context.Context, inc model.Incident) error
	GetIncident(ctx context.Context, id string) (model.Incident, error)
	// FindActiveIncident returns the newest active incident for (targetID, kind) created at or after since.
	FindActiveIncident(ctx context.Context, targetID, kind string, since time.Time) (model.Incident, error)
	TouchIncident(ctx context.Context, id string, at time.Time) error
	// ResolveIncident moves an active incident to resolved. It reports false when the
	// incident was already resolved.
	ResolveIncident(ctx context.Context, id string, at time.Time) (bool, error)
	MarkIncidentNotified(ctx context.Context, id string) error
	ListIncidents(ctx context.Context, f IncidentFilter) ([]model.Incident, error)

	AppendNotification(ctx context.Context, rec model.NotificationRecord) error
	ListNotifications(ctx context.Context, f NotificationFilter) ([]model.NotificationRecord, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)

	UpsertSubscription(ctx context.Context, sub model.Subscription) error
	SetSubscriptionWants(ctx context.Context, channel, recipient string, wants bool) error
	ListSubscriptions(ctx context.Context, channel string, wantsOnly bool) ([]model.Subscription, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "memory":
		return NewMemory(), nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
