package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"serverwatch/internal/model"
)

func severityIcon(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "🔴"
	case model.SeverityWarning:
		return "🟠"
	default:
		return "🔵"
	}
}

func renderIncident(inc model.Incident, t model.Target) Message {
	title := fmt.Sprintf("[%s] %s", strings.ToUpper(string(inc.Severity)), inc.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", severityIcon(inc.Severity), inc.Title)
	fmt.Fprintf(&b, "Server: %s (%s)\n", t.Name, t.Address)
	fmt.Fprintf(&b, "Severity: %s\n", inc.Severity)
	if inc.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", inc.Description)
	}
	fmt.Fprintf(&b, "Detected: %s", inc.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))

	return Message{Title: title, Text: b.String(), HTML: htmlBody(title, b.String())}
}

func renderRecovery(inc model.Incident, t model.Target, now time.Time) Message {
	title := fmt.Sprintf("[RESOLVED] %s is back online", t.Name)
	down := inc.Downtime(now).Round(time.Second)

	var b strings.Builder
	fmt.Fprintf(&b, "✅ %s is back online\n\n", t.Name)
	fmt.Fprintf(&b, "Server: %s (%s)\n", t.Name, t.Address)
	fmt.Fprintf(&b, "Downtime: %s\n", formatDowntime(down))
	at := now
	if inc.ResolvedAt != nil {
		at = *inc.ResolvedAt
	}
	fmt.Fprintf(&b, "Recovered: %s", at.UTC().Format("2006-01-02 15:04:05 MST"))

	return Message{Title: title, Text: b.String(), HTML: htmlBody(title, b.String())}
}

func formatDowntime(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

func htmlBody(title, text string) string {
	var b strings.Builder
	b.WriteString("<h2>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</h2><p>")
	b.WriteString(strings.ReplaceAll(html.EscapeString(text), "\n", "<br>"))
	b.WriteString("</p>")
	return b.String()
}
