package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": in-memory state persisted as a JSON snapshot at Path
//   - "memory": in-memory only, lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// IncidentFilter narrows ListIncidents. Zero values match everything.
type IncidentFilter struct {
	TargetID string
	Status   string
	Limit    int
}

// NotificationFilter narrows ListNotifications.
type NotificationFilter struct {
	IncidentID string
	Channel    string
	Limit      int
}

const defaultListLimit = 100

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
