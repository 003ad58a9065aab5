// Package detector derives issues from a single probe result.
package detector

import (
	"fmt"
	"time"

	"serverwatch/internal/model"
)

// HighLatency is the latency above which a warning is raised.
const HighLatency = 1000 * time.Millisecond

// Detect evaluates every rule against r; the result may hold several issues.
// minProtocol <= 0 disables the version check.
func Detect(t model.Target, r model.ProbeResult, minProtocol int) []model.Issue {
	var issues []model.Issue

	if !r.Healthy {
		desc := fmt.Sprintf("%s (%s) is not responding.", t.Name, t.Address)
		if r.Error != "" {
			desc += " Error: " + r.Error
		}
		issues = append(issues, model.Issue{
			Kind:        model.KindTargetOffline,
			Severity:    model.SeverityCritical,
			Title:       fmt.Sprintf("%s is offline", t.Name),
			Description: desc,
		})
	}

	if r.Latency > HighLatency {
		issues = append(issues, model.Issue{
			Kind:        model.KindHighLatency,
			Severity:    model.SeverityWarning,
			Title:       fmt.Sprintf("High latency on %s", t.Name),
			Description: fmt.Sprintf("Response time is %dms (threshold %dms).", r.Latency.Milliseconds(), HighLatency.Milliseconds()),
		})
	}

	if r.Occupancy.Max > 0 && r.Occupancy.Current == r.Occupancy.Max {
		issues = append(issues, model.Issue{
			Kind:        model.KindFullCapacity,
			Severity:    model.SeverityWarning,
			Title:       fmt.Sprintf("%s is full", t.Name),
			Description: fmt.Sprintf("%d/%d slots in use.", r.Occupancy.Current, r.Occupancy.Max),
		})
	}

	if minProtocol > 0 && r.ProtocolVersion > 0 && r.ProtocolVersion < minProtocol {
		issues = append(issues, model.Issue{
			Kind:        model.KindVersionMismatch,
			Severity:    model.SeverityInfo,
			Title:       fmt.Sprintf("Outdated version on %s", t.Name),
			Description: fmt.Sprintf("Protocol %d (%s) is below the required %d.", r.ProtocolVersion, r.Version, minProtocol),
		})
	}

	return issues
}
