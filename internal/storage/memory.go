package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"serverwatch/internal/model"
)

// Memory is a mutex-guarded in-process Store. The "file" driver wraps it with a
// snapshot on every mutation; tests use it directly.
type Memory struct {
	mu            sync.RWMutex
	targets       map[string]model.Target
	incidents     map[string]model.Incident
	notifications []model.NotificationRecord
	settings      map[string]string
	subs          map[subKey]model.Subscription

	// onChange runs with mu held after a successful mutation.
	onChange func(*Memory)
}

type subKey struct{ channel, recipient string }

func NewMemory() *Memory {
	return &Memory{
		targets:   map[string]model.Target{},
		incidents: map[string]model.Incident{},
		settings:  map[string]string{},
		subs:      map[subKey]model.Subscription{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) changed() {
	if m.onChange != nil {
		m.onChange(m)
	}
}

func (m *Memory) ListTargets(_ context.Context, activeOnly bool) ([]model.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Target, 0, len(m.targets))
	for _, t := range m.targets {
		if activeOnly && !t.Active {
			continue
		}
		out = append(out, cloneTarget(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) GetTarget(_ context.Context, id string) (model.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[id]
	if !ok {
		return model.Target{}, ErrNotFound
	}
	return cloneTarget(t), nil
}

func (m *Memory) CreateTarget(_ context.Context, t model.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[t.ID]; ok {
		return ErrConflict
	}
	m.targets[t.ID] = cloneTarget(t)
	m.changed()
	return nil
}

func (m *Memory) UpdateTarget(_ context.Context, t model.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.targets[t.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Name = t.Name
	cur.Address = t.Address
	cur.Variant = t.Variant
	cur.PollInterval = t.PollInterval
	cur.Active = t.Active
	cur.UpdatedAt = t.UpdatedAt
	m.targets[t.ID] = cur
	m.changed()
	return nil
}

func (m *Memory) DeleteTarget(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[id]; !ok {
		return ErrNotFound
	}
	delete(m.targets, id)
	m.changed()
	return nil
}

func (m *Memory) RecordCheck(_ context.Context, id string, r model.ProbeResult, downtime int64) (model.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return model.Target{}, ErrNotFound
	}
	t.Stats.TotalChecks++
	if r.Healthy {
		t.Stats.UptimeChecks++
	} else {
		t.Stats.TotalDowntime += downtime
	}
	res := r
	t.LastStatus = &res
	t.UpdatedAt = r.CheckedAt
	m.targets[id] = t
	m.changed()
	return cloneTarget(t), nil
}

func (m *Memory) CreateIncident(_ context.Context, inc model.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[inc.ID]; ok {
		return ErrConflict
	}
	m.incidents[inc.ID] = inc
	m.changed()
	return nil
}

func (m *Memory) GetIncident(_ context.Context, id string) (model.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.incidents[id]
	if !ok {
		return model.Incident{}, ErrNotFound
	}
	return inc, nil
}

func (m *Memory) FindActiveIncident(_ context.Context, targetID, kind string, since time.Time) (model.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  model.Incident
		found bool
	)
	for _, inc := range m.incidents {
		if inc.TargetID != targetID || inc.Kind != kind || inc.Status != model.IncidentActive {
			continue
		}
		if inc.CreatedAt.Before(since) {
			continue
		}
		if !found || inc.CreatedAt.After(best.CreatedAt) {
			best, found = inc, true
		}
	}
	if !found {
		return model.Incident{}, ErrNotFound
	}
	return best, nil
}

func (m *Memory) TouchIncident(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return ErrNotFound
	}
	inc.UpdatedAt = at
	m.incidents[id] = inc
	m.changed()
	return nil
}

func (m *Memory) ResolveIncident(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return false, ErrNotFound
	}
	if inc.Status != model.IncidentActive {
		return false, nil
	}
	inc.Status = model.IncidentResolved
	inc.ResolvedAt = &at
	inc.UpdatedAt = at
	m.incidents[id] = inc
	m.changed()
	return true, nil
}

func (m *Memory) MarkIncidentNotified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return ErrNotFound
	}
	inc.NotificationsSent = true
	m.incidents[id] = inc
	m.changed()
	return nil
}

func (m *Memory) ListIncidents(_ context.Context, f IncidentFilter) ([]model.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Incident
	for _, inc := range m.incidents {
		if f.TargetID != "" && inc.TargetID != f.TargetID {
			continue
		}
		if f.Status != "" && string(inc.Status) != f.Status {
			continue
		}
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := limitOrDefault(f.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) AppendNotification(_ context.Context, r model.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, r)
	m.changed()
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, f NotificationFilter) ([]model.NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.NotificationRecord
	for i := len(m.notifications) - 1; i >= 0; i-- {
		r := m.notifications[i]
		if f.IncidentID != "" && r.IncidentID != f.IncidentID {
			continue
		}
		if f.Channel != "" && r.Channel != f.Channel {
			continue
		}
		out = append(out, r)
		if len(out) >= limitOrDefault(f.Limit) {
			break
		}
	}
	return out, nil
}

func (m *Memory) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *Memory) PutSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	m.changed()
	return nil
}

func (m *Memory) ListSettings(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) UpsertSubscription(_ context.Context, sub model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.LastSeen.IsZero() {
		sub.LastSeen = time.Now()
	}
	k := subKey{sub.Channel, sub.Recipient}
	if cur, ok := m.subs[k]; ok {
		cur.DisplayName = sub.DisplayName
		cur.LastSeen = sub.LastSeen
		m.subs[k] = cur
	} else {
		m.subs[k] = sub
	}
	m.changed()
	return nil
}

func (m *Memory) SetSubscriptionWants(_ context.Context, channel, recipient string, wants bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey{channel, recipient}
	cur, ok := m.subs[k]
	if !ok {
		return ErrNotFound
	}
	cur.WantsNotifications = wants
	m.subs[k] = cur
	m.changed()
	return nil
}

func (m *Memory) ListSubscriptions(_ context.Context, channel string, wantsOnly bool) ([]model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Subscription
	for k, s := range m.subs {
		if k.channel != channel || (wantsOnly && !s.WantsNotifications) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient < out[j].Recipient })
	return out, nil
}

func cloneTarget(t model.Target) model.Target {
	if t.LastStatus != nil {
		r := *t.LastStatus
		t.LastStatus = &r
	}
	return t
}
