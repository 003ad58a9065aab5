// Package incident deduplicates detected issues into incidents, resolves them
// and watches offline incidents for recovery.
package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"serverwatch/internal/eventbus"
	"serverwatch/internal/model"
	"serverwatch/internal/storage"
	logx "serverwatch/pkg/logx"

	"github.com/google/uuid"
)

const (
	DefaultDedupWindow      = 30 * time.Minute
	DefaultRecoveryInterval = 60 * time.Second
)

var ErrAlreadyResolved = errors.New("incident already resolved")

// Store is the slice of storage.Store the ledger needs.
type Store interface {
	GetTarget(ctx context.Context, id string) (model.Target, error)
	CreateIncident(ctx context.Context, inc model.Incident) error
	GetIncident(ctx context.Context, id string) (model.Incident, error)
	FindActiveIncident(ctx context.Context, targetID, kind string, since time.Time) (model.Incident, error)
	TouchIncident(ctx context.Context, id string, at time.Time) error
	ResolveIncident(ctx context.Context, id string, at time.Time) (bool, error)
	ListIncidents(ctx context.Context, f storage.IncidentFilter) ([]model.Incident, error)
}

// Notifier fans incidents out to the delivery channels.
type Notifier interface {
	Notify(ctx context.Context, inc model.Incident, t model.Target) error
	NotifyRecovery(ctx context.Context, inc model.Incident, t model.Target) error
}

// Timers is implemented by scheduler.Registry.
type Timers interface {
	Arm(key string, every time.Duration, fn func(ctx context.Context)) error
	Cancel(key string) bool
	IsArmed(key string) bool
}

type Options struct {
	DedupWindow      time.Duration
	RecoveryInterval time.Duration
}

type Ledger struct {
	store    Store
	notifier Notifier
	timers   Timers
	bus      eventbus.Bus
	log      logx.Logger
	opts     Options
	now      func() time.Time

	locks sync.Map // target|kind -> *sync.Mutex
}

func NewLedger(store Store, notifier Notifier, timers Timers, bus eventbus.Bus, opts Options, log logx.Logger) *Ledger {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.RecoveryInterval <= 0 {
		opts.RecoveryInterval = DefaultRecoveryInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{
		store:    store,
		notifier: notifier,
		timers:   timers,
		bus:      bus,
		log:      log.With(logx.String("comp", "incidents")),
		opts:     opts,
		now:      time.Now,
	}
}

func watchKey(incidentID string) string { return "recovery:" + incidentID }

func (l *Ledger) lockFor(targetID, kind string) *sync.Mutex {
	m, _ := l.locks.LoadOrStore(targetID+"|"+kind, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Handle records issue for t. A repeat of an active incident inside the dedup
// window only refreshes its UpdatedAt; otherwise a new incident is created and
// dispatched, and offline incidents get a recovery watcher.
func (l *Ledger) Handle(ctx context.Context, t model.Target, issue model.Issue, res model.ProbeResult) error {
	inc, created, err := l.open(ctx, t, issue, res)
	if err != nil || !created {
		return err
	}

	l.publish(eventbus.TypeIncidentOpened, inc)
	l.log.Info("incident opened",
		logx.String("incident", inc.ID),
		logx.String("target", t.ID),
		logx.String("kind", inc.Kind),
		logx.String("severity", string(inc.Severity)),
	)

	if inc.Kind == model.KindTargetOffline {
		l.watch(inc)
	}

	if l.notifier != nil {
		if err := l.notifier.Notify(ctx, inc, t); err != nil {
			l.log.Error("notify failed", logx.String("incident", inc.ID), logx.Err(err))
		}
	}
	return nil
}

// open runs the dedup check and the insert under the (target, kind) lock.
func (l *Ledger) open(ctx context.Context, t model.Target, issue model.Issue, res model.ProbeResult) (model.Incident, bool, error) {
	mu := l.lockFor(t.ID, issue.Kind)
	mu.Lock()
	defer mu.Unlock()

	now := l.now()
	existing, err := l.store.FindActiveIncident(ctx, t.ID, issue.Kind, now.Add(-l.opts.DedupWindow))
	switch {
	case err == nil:
		if err := l.store.TouchIncident(ctx, existing.ID, now); err != nil {
			return model.Incident{}, false, fmt.Errorf("touch incident: %w", err)
		}
		l.log.Debug("incident refreshed", logx.String("incident", existing.ID), logx.String("kind", issue.Kind))
		return existing, false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return model.Incident{}, false, fmt.Errorf("find active incident: %w", err)
	}

	snap, err := json.Marshal(res)
	if err != nil {
		return model.Incident{}, false, fmt.Errorf("encode snapshot: %w", err)
	}
	inc := model.Incident{
		ID:          uuid.New().String(),
		TargetID:    t.ID,
		Kind:        issue.Kind,
		Title:       issue.Title,
		Description: issue.Description,
		Severity:    issue.Severity,
		Status:      model.IncidentActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		Snapshot:    string(snap),
	}
	if err := l.store.CreateIncident(ctx, inc); err != nil {
		return model.Incident{}, false, fmt.Errorf("create incident: %w", err)
	}
	return inc, true, nil
}

// Resolve resolves an active incident administratively and stops its recovery
// watcher. No recovery notification is sent.
func (l *Ledger) Resolve(ctx context.Context, id string) (model.Incident, error) {
	ok, err := l.store.ResolveIncident(ctx, id, l.now())
	if err != nil {
		return model.Incident{}, err
	}
	l.timers.Cancel(watchKey(id))
	if !ok {
		return model.Incident{}, ErrAlreadyResolved
	}
	inc, err := l.store.GetIncident(ctx, id)
	if err != nil {
		return model.Incident{}, err
	}
	l.publish(eventbus.TypeIncidentResolved, inc)
	l.log.Info("incident resolved", logx.String("incident", id), logx.String("by", "admin"))
	return inc, nil
}

// Start re-arms recovery watchers for offline incidents left active by a
// previous run.
func (l *Ledger) Start(ctx context.Context) error {
	open, err := l.store.ListIncidents(ctx, storage.IncidentFilter{Status: string(model.IncidentActive), Limit: 10000})
	if err != nil {
		return fmt.Errorf("list active incidents: %w", err)
	}
	n := 0
	for _, inc := range open {
		if inc.Kind != model.KindTargetOffline {
			continue
		}
		l.watch(inc)
		n++
	}
	if n > 0 {
		l.log.Info("recovery watchers restored", logx.Int("count", n))
	}
	return nil
}

// Watching reports whether a recovery watcher is armed for the incident.
func (l *Ledger) Watching(incidentID string) bool {
	return l.timers.IsArmed(watchKey(incidentID))
}

func (l *Ledger) publish(typ string, inc model.Incident) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: inc})
}
