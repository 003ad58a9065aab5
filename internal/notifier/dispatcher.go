package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"serverwatch/internal/eventbus"
	"serverwatch/internal/model"
	"serverwatch/internal/settings"
	logx "serverwatch/pkg/logx"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Store is the slice of storage.Store the dispatcher needs.
type Store interface {
	ListSubscriptions(ctx context.Context, channel string, wantsOnly bool) ([]model.Subscription, error)
	AppendNotification(ctx context.Context, rec model.NotificationRecord) error
	MarkIncidentNotified(ctx context.Context, id string) error
}

// SettingsSource provides the current runtime settings.
type SettingsSource interface {
	Get() settings.Settings
}

// Dispatcher implements the incident fan-out. It is safe for concurrent use.
type Dispatcher struct {
	store    Store
	settings SettingsSource
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	mu       sync.RWMutex
	cfg      Config
	senders  []Sender
	limiters map[string]*rate.Limiter
}

func New(cfg Config, store Store, st SettingsSource, bus eventbus.Bus, log logx.Logger, senders ...Sender) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		store:    store,
		settings: st,
		bus:      bus,
		log:      log.With(logx.String("comp", "notifier")),
		now:      time.Now,
		limiters: map[string]*rate.Limiter{},
	}
	d.Apply(cfg)
	for _, s := range senders {
		d.Register(s)
	}
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	for name := range d.limiters {
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		d.limiters[name] = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
}

// Register adds a sender. A sender with the same name replaces the previous one.
func (d *Dispatcher) Register(s Sender) {
	if s == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	name := s.Name()
	for i, cur := range d.senders {
		if cur.Name() == name {
			d.senders[i] = s
			return
		}
	}
	d.senders = append(d.senders, s)
	d.limiters[name] = rate.NewLimiter(rate.Limit(d.cfg.RatePerSec), d.cfg.RatePerSec)
}

// Channels lists registered senders with their readiness and enable flag.
func (d *Dispatcher) Channels() []ChannelInfo {
	st := d.settings.Get()
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ChannelInfo, 0, len(d.senders))
	for _, s := range d.senders {
		out = append(out, ChannelInfo{Name: s.Name(), Status: s.Status(), Enabled: st.ChannelEnabled(s.Name())})
	}
	return out
}

// Notify dispatches a newly opened incident and marks it notified.
// Severities gated off in settings produce no records and leave the flag unset.
func (d *Dispatcher) Notify(ctx context.Context, inc model.Incident, t model.Target) error {
	st := d.settings.Get()
	if !st.NotifyFor(string(inc.Severity)) {
		d.log.Debug("severity gated", logx.String("incident", inc.ID), logx.String("severity", string(inc.Severity)))
		return nil
	}

	sent, failed := d.fanOut(ctx, st, inc.ID, renderIncident(inc, t))
	d.log.Info("incident dispatched",
		logx.String("incident", inc.ID),
		logx.String("target", t.ID),
		logx.Int("sent", sent),
		logx.Int("failed", failed),
	)

	if err := d.store.MarkIncidentNotified(ctx, inc.ID); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// NotifyRecovery dispatches the recovery notice for a resolved incident.
func (d *Dispatcher) NotifyRecovery(ctx context.Context, inc model.Incident, t model.Target) error {
	st := d.settings.Get()
	if !st.NotifyFor(string(inc.Severity)) {
		return nil
	}
	sent, failed := d.fanOut(ctx, st, inc.ID, renderRecovery(inc, t, d.now()))
	d.log.Info("recovery dispatched",
		logx.String("incident", inc.ID),
		logx.String("target", t.ID),
		logx.Int("sent", sent),
		logx.Int("failed", failed),
	)
	return nil
}

type attempt struct {
	sender    Sender
	recipient string
}

// fanOut snapshots the recipients of every enabled, ready channel and then
// attempts each pair in order.
func (d *Dispatcher) fanOut(ctx context.Context, st settings.Settings, incidentID string, msg Message) (sent, failed int) {
	d.mu.RLock()
	senders := append([]Sender(nil), d.senders...)
	timeout := d.cfg.SendTimeout
	d.mu.RUnlock()

	var plan []attempt
	for _, s := range senders {
		name := s.Name()
		if !st.ChannelEnabled(name) {
			continue
		}
		if status := s.Status(); status != StatusReady {
			d.log.Debug("channel skipped", logx.String("channel", name), logx.String("status", string(status)), logx.Err(ErrChannelUnavailable))
			continue
		}
		rcpts, err := d.recipients(ctx, st, name)
		if err != nil {
			d.log.Error("recipient lookup failed", logx.String("channel", name), logx.Err(err))
			continue
		}
		for _, r := range rcpts {
			plan = append(plan, attempt{sender: s, recipient: r})
		}
	}

	for _, a := range plan {
		if ctx.Err() != nil {
			d.log.Warn("fan-out interrupted", logx.String("incident", incidentID), logx.Err(ctx.Err()))
			return sent, failed
		}
		if d.attempt(ctx, timeout, incidentID, a, msg) {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

func (d *Dispatcher) recipients(ctx context.Context, st settings.Settings, channel string) ([]string, error) {
	switch channel {
	case ChannelEmail:
		if st.AdminEmail == "" {
			return nil, nil
		}
		return []string{st.AdminEmail}, nil
	case ChannelWhatsApp:
		if st.AdminWhatsApp == "" {
			return nil, nil
		}
		return []string{st.AdminWhatsApp}, nil
	default:
		subs, err := d.store.ListSubscriptions(ctx, channel, true)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(subs))
		for _, s := range subs {
			out = append(out, s.Recipient)
		}
		return out, nil
	}
}

// attempt sends one message and writes its record. It reports delivery success.
func (d *Dispatcher) attempt(ctx context.Context, timeout time.Duration, incidentID string, a attempt, msg Message) (ok bool) {
	name := a.sender.Name()
	rec := model.NotificationRecord{
		ID:         uuid.New().String(),
		IncidentID: incidentID,
		Channel:    name,
		Title:      msg.Title,
		Message:    msg.Text,
		Recipient:  a.recipient,
	}

	err := d.wait(ctx, name)
	if err == nil {
		err = d.send(ctx, timeout, a, msg)
	}
	rec.SentAt = d.now()
	if err != nil {
		rec.Status = model.NotificationFailed
		rec.Error = err.Error()
		d.log.Warn("send failed", logx.String("channel", name), logx.String("recipient", a.recipient), logx.String("incident", incidentID), logx.Err(err))
	} else {
		rec.Status = model.NotificationSent
		ok = true
	}

	if werr := d.store.AppendNotification(context.WithoutCancel(ctx), rec); werr != nil {
		d.log.Error("record write failed", logx.String("channel", name), logx.String("incident", incidentID), logx.Err(werr))
	}

	if d.bus != nil {
		typ := eventbus.TypeNotificationSent
		if !ok {
			typ = eventbus.TypeNotificationFailed
		}
		d.bus.Publish(eventbus.Event{Type: typ, Time: rec.SentAt, Data: NotificationEvent{
			IncidentID: incidentID, Channel: name, Recipient: a.recipient, At: rec.SentAt, Error: rec.Error,
		}})
	}
	return ok
}

func (d *Dispatcher) wait(ctx context.Context, channel string) error {
	d.mu.RLock()
	lim := d.limiters[channel]
	d.mu.RUnlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

func (d *Dispatcher) send(ctx context.Context, timeout time.Duration, a attempt, msg Message) (err error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	_, err = a.sender.Send(sctx, a.recipient, msg)
	return err
}
