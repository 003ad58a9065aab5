package eventbus

// Live-update event types mirrored to UI consumers.
const (
	TypeTargetUpdated    = "target-updated"
	TypeTargetRemoved    = "target-removed"
	TypeIncidentOpened   = "incident-opened"
	TypeIncidentResolved = "incident-resolved"

	// Internal signals (not forwarded to the stream by default).
	TypeNotificationSent   = "notification.sent"
	TypeNotificationFailed = "notification.failed"
)

// Public reports whether an event type is part of the live-update stream.
func Public(t string) bool {
	switch t {
	case TypeTargetUpdated, TypeTargetRemoved, TypeIncidentOpened, TypeIncidentResolved:
		return true
	default:
		return false
	}
}
