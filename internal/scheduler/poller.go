package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"serverwatch/internal/detector"
	"serverwatch/internal/eventbus"
	"serverwatch/internal/model"
	"serverwatch/internal/probe"
	"serverwatch/internal/settings"
	logx "serverwatch/pkg/logx"
)

// TargetStore is the slice of storage.Store the poller needs.
type TargetStore interface {
	ListTargets(ctx context.Context, activeOnly bool) ([]model.Target, error)
	GetTarget(ctx context.Context, id string) (model.Target, error)
	RecordCheck(ctx context.Context, id string, res model.ProbeResult, downtime int64) (model.Target, error)
}

// IssueHandler receives every detected issue, in detection order.
type IssueHandler interface {
	Handle(ctx context.Context, t model.Target, issue model.Issue, res model.ProbeResult) error
}

// SettingsSource provides the current runtime settings.
type SettingsSource interface {
	Get() settings.Settings
}

type Options struct {
	ProbeTimeout time.Duration
}

type Poller struct {
	store    TargetStore
	prober   probe.Prober
	reg      *Registry
	bus      eventbus.Bus
	settings SettingsSource
	issues   IssueHandler
	log      logx.Logger
	opts     Options
	now      func() time.Time

	// per-target check lock; a forced check never overlaps a timer tick
	locks sync.Map // id -> *sync.Mutex
}

func NewPoller(store TargetStore, prober probe.Prober, reg *Registry, bus eventbus.Bus, st SettingsSource, issues IssueHandler, opts Options, log logx.Logger) *Poller {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = probe.DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		store:    store,
		prober:   prober,
		reg:      reg,
		bus:      bus,
		settings: st,
		issues:   issues,
		log:      log.With(logx.String("comp", "poller")),
		opts:     opts,
		now:      time.Now,
	}
}

func pollKey(id string) string { return "poll:" + id }

// StartMonitoring arms (or re-arms) the poll timer of t.
func (p *Poller) StartMonitoring(t model.Target) error {
	every := t.Interval()
	if every <= 0 {
		every = time.Duration(p.settings.Get().DefaultPoll) * time.Second
	}
	id := t.ID
	if err := p.reg.Arm(pollKey(id), every, func(ctx context.Context) {
		if err := p.CheckTarget(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Warn("check failed", logx.String("target", id), logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("arm %s: %w", id, err)
	}
	p.log.Info("monitoring started", logx.String("target", id), logx.String("name", t.Name), logx.Duration("every", every))
	return nil
}

// StopMonitoring cancels the poll timer of id. Unknown ids are a no-op.
func (p *Poller) StopMonitoring(id string) {
	if p.reg.Cancel(pollKey(id)) {
		p.log.Info("monitoring stopped", logx.String("target", id))
	}
}

// IsMonitoring reports whether id currently has a poll timer.
func (p *Poller) IsMonitoring(id string) bool { return p.reg.IsArmed(pollKey(id)) }

// Start arms every active target and runs one immediate check per target.
// Immediate checks run concurrently and Start returns once they are done.
func (p *Poller) Start(ctx context.Context) error {
	targets, err := p.store.ListTargets(ctx, true)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}
	for _, t := range targets {
		if err := p.StartMonitoring(t); err != nil {
			p.log.Error("arm failed", logx.String("target", t.ID), logx.Err(err))
		}
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := p.CheckTarget(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Warn("initial check failed", logx.String("target", id), logx.Err(err))
			}
		}(t.ID)
	}
	wg.Wait()
	p.log.Info("poller started", logx.Int("targets", len(targets)))
	return nil
}

func (p *Poller) lockFor(id string) *sync.Mutex {
	m, _ := p.locks.LoadOrStore(id, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// CheckTarget probes the target once, records the result and hands every
// detected issue to the issue handler. Probe failures become unhealthy results.
// Store errors abort this cycle only.
func (p *Poller) CheckTarget(ctx context.Context, id string) error {
	mu := p.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := p.store.GetTarget(ctx, id)
	if err != nil {
		return fmt.Errorf("load target: %w", err)
	}

	res := p.probe(ctx, t)

	var downtime int64
	if !res.Healthy {
		downtime = int64(t.PollInterval)
		if downtime <= 0 {
			downtime = int64(p.settings.Get().DefaultPoll)
		}
	}
	updated, err := p.store.RecordCheck(ctx, id, res, downtime)
	if err != nil {
		return fmt.Errorf("record check: %w", err)
	}

	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeTargetUpdated, Data: updated})
	}

	issues := detector.Detect(updated, res, p.settings.Get().MinProtocolVersion)
	if len(issues) > 0 {
		p.log.Debug("issues detected", logx.String("target", id), logx.Int("count", len(issues)))
	}
	for _, is := range issues {
		if err := p.issues.Handle(ctx, updated, is, res); err != nil {
			p.log.Error("incident handling failed", logx.String("target", id), logx.String("kind", is.Kind), logx.Err(err))
		}
	}
	return nil
}

func (p *Poller) probe(ctx context.Context, t model.Target) model.ProbeResult {
	pctx, cancel := context.WithTimeout(ctx, p.opts.ProbeTimeout)
	defer cancel()

	res, err := func() (r model.ProbeResult, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("probe panic: %v", rec)
			}
		}()
		return p.prober.Probe(pctx, t.Address, t.Variant)
	}()
	if err != nil {
		p.log.Debug("probe failed", logx.String("target", t.ID), logx.String("address", t.Address), logx.Err(err))
		return model.Unhealthy(err, p.now())
	}
	if res.CheckedAt.IsZero() {
		res.CheckedAt = p.now()
	}
	return res
}
