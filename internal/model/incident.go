package model

import "time"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Issue kinds produced by the detector.
const (
	KindTargetOffline   = "target_offline"
	KindHighLatency     = "high_latency"
	KindFullCapacity    = "full_capacity"
	KindVersionMismatch = "version_mismatch"
)

// Issue is a transient finding; it carries no identity.
type Issue struct {
	Kind        string   `json:"kind"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
}

type IncidentStatus string

const (
	IncidentActive   IncidentStatus = "active"
	IncidentResolved IncidentStatus = "resolved"
)

// Incident is the persisted, deduplicated record of an issue on a target.
type Incident struct {
	ID                string         `json:"id"`
	TargetID          string         `json:"targetId"`
	Kind              string         `json:"kind"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Severity          Severity       `json:"severity"`
	Status            IncidentStatus `json:"status"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	ResolvedAt        *time.Time     `json:"resolvedAt,omitempty"`
	NotificationsSent bool           `json:"notificationsSent"`
	Snapshot          string         `json:"snapshot,omitempty"` // JSON of the triggering ProbeResult
}

// Downtime is the elapsed time between creation and resolution (or now).
func (i Incident) Downtime(now time.Time) time.Duration {
	end := now
	if i.ResolvedAt != nil {
		end = *i.ResolvedAt
	}
	if end.Before(i.CreatedAt) {
		return 0
	}
	return end.Sub(i.CreatedAt)
}

type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// NotificationRecord is written once per delivery attempt.
type NotificationRecord struct {
	ID         string             `json:"id"`
	IncidentID string             `json:"incidentId"`
	Channel    string             `json:"channel"`
	Title      string             `json:"title"`
	Message    string             `json:"message"`
	Recipient  string             `json:"recipient"`
	Status     NotificationStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	SentAt     time.Time          `json:"sentAt"`
}

// Subscription is a known chat/user on an inbound-capable channel.
type Subscription struct {
	Channel            string    `json:"channel"`
	Recipient          string    `json:"recipient"`
	WantsNotifications bool      `json:"wantsNotifications"`
	DisplayName        string    `json:"displayName,omitempty"`
	LastSeen           time.Time `json:"lastSeen"`
}
