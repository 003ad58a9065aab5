package incident

import (
	"context"
	"errors"

	"serverwatch/internal/eventbus"
	"serverwatch/internal/model"
	"serverwatch/internal/storage"
	logx "serverwatch/pkg/logx"
)

func (l *Ledger) watch(inc model.Incident) {
	id := inc.ID
	err := l.timers.Arm(watchKey(id), l.opts.RecoveryInterval, func(ctx context.Context) {
		l.checkRecovery(ctx, id)
	})
	if err != nil {
		l.log.Error("recovery watcher arm failed", logx.String("incident", id), logx.Err(err))
		return
	}
	l.log.Debug("recovery watcher armed", logx.String("incident", id), logx.String("target", inc.TargetID))
}

// checkRecovery is one watcher tick. It resolves the incident once the target's
// last recorded status is healthy; the compare-and-set resolve guarantees a
// single recovery notification even if an admin resolves concurrently.
func (l *Ledger) checkRecovery(ctx context.Context, id string) {
	log := l.log.With(logx.String("incident", id))

	inc, err := l.store.GetIncident(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		l.timers.Cancel(watchKey(id))
		return
	}
	if err != nil {
		log.Warn("recovery check: load incident failed", logx.Err(err))
		return
	}
	if inc.Status != model.IncidentActive {
		l.timers.Cancel(watchKey(id))
		return
	}

	t, err := l.store.GetTarget(ctx, inc.TargetID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Info("target removed, recovery watch stopped", logx.String("target", inc.TargetID))
		l.timers.Cancel(watchKey(id))
		return
	}
	if err != nil {
		log.Warn("recovery check: load target failed", logx.Err(err))
		return
	}
	if t.LastStatus == nil || !t.LastStatus.Healthy {
		return
	}

	ok, err := l.store.ResolveIncident(ctx, id, l.now())
	if err != nil {
		log.Warn("recovery check: resolve failed", logx.Err(err))
		return
	}
	l.timers.Cancel(watchKey(id))
	if !ok {
		return
	}

	resolved, err := l.store.GetIncident(ctx, id)
	if err != nil {
		log.Warn("recovery check: reload failed", logx.Err(err))
		return
	}
	l.publish(eventbus.TypeIncidentResolved, resolved)
	log.Info("incident recovered", logx.String("target", t.ID), logx.Duration("downtime", resolved.Downtime(l.now())))

	if l.notifier != nil {
		if err := l.notifier.NotifyRecovery(ctx, resolved, t); err != nil {
			log.Error("recovery notify failed", logx.Err(err))
		}
	}
}
