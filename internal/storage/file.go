package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"serverwatch/internal/model"
	logx "serverwatch/pkg/logx"
)

// fileSnapshot is the on-disk shape of the "file" driver.
type fileSnapshot struct {
	Targets       []model.Target             `json:"targets"`
	Incidents     []model.Incident           `json:"incidents"`
	Notifications []model.NotificationRecord `json:"notifications"`
	Settings      map[string]string          `json:"settings"`
	Subscriptions []model.Subscription       `json:"subscriptions"`
}

// maxSnapshotNotifications bounds the notification history kept in the snapshot.
const maxSnapshotNotifications = 5000

// openFile loads a Memory store from a JSON snapshot and rewrites the snapshot
// (tmp + rename) after every mutation.
func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	m := NewMemory()
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		var snap fileSnapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			return nil, err
		}
		for _, t := range snap.Targets {
			m.targets[t.ID] = t
		}
		for _, inc := range snap.Incidents {
			m.incidents[inc.ID] = inc
		}
		m.notifications = snap.Notifications
		for k, v := range snap.Settings {
			m.settings[k] = v
		}
		for _, s := range snap.Subscriptions {
			m.subs[subKey{s.Channel, s.Recipient}] = s
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	m.onChange = func(m *Memory) {
		if err := writeSnapshot(path, m); err != nil {
			log.Warn("snapshot write failed", logx.String("path", path), logx.Err(err))
		}
	}
	log.Info("file store opened", logx.String("path", path), logx.Int("targets", len(m.targets)))
	return m, nil
}

// writeSnapshot is called with m.mu held.
func writeSnapshot(path string, m *Memory) error {
	snap := fileSnapshot{Settings: m.settings}
	for _, t := range m.targets {
		snap.Targets = append(snap.Targets, t)
	}
	for _, inc := range m.incidents {
		snap.Incidents = append(snap.Incidents, inc)
	}
	snap.Notifications = m.notifications
	if n := len(snap.Notifications); n > maxSnapshotNotifications {
		snap.Notifications = snap.Notifications[n-maxSnapshotNotifications:]
	}
	for _, s := range m.subs {
		snap.Subscriptions = append(snap.Subscriptions, s)
	}

	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
