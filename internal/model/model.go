// Package model holds the domain records shared by the monitoring engine,
// the storage layer and the outer surfaces (HTTP API, bot).
package model

import (
	"strings"
	"time"
)

// Variant selects the probe used for a target.
type Variant string

const (
	VariantJava    Variant = "java"
	VariantBedrock Variant = "bedrock"
	VariantTCP     Variant = "tcp"
	VariantHTTP    Variant = "http"
)

func ParseVariant(s string) (Variant, bool) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantJava, VariantBedrock, VariantTCP, VariantHTTP:
		return v, true
	case "":
		return VariantJava, true
	default:
		return "", false
	}
}

// Stats are cumulative counters maintained by the poller.
type Stats struct {
	TotalChecks   int64 `json:"totalChecks"`
	UptimeChecks  int64 `json:"uptimeChecks"`
	TotalDowntime int64 `json:"totalDowntime"` // seconds
}

// UptimePercent returns the share of healthy checks, or 0 when nothing was checked yet.
func (s Stats) UptimePercent() float64 {
	if s.TotalChecks <= 0 {
		return 0
	}
	return float64(s.UptimeChecks) * 100 / float64(s.TotalChecks)
}

// Target is a monitored network service.
type Target struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Address      string       `json:"address"`
	Variant      Variant      `json:"variant"`
	PollInterval int          `json:"pollInterval"` // seconds
	Active       bool         `json:"active"`
	Stats        Stats        `json:"stats"`
	LastStatus   *ProbeResult `json:"lastStatus,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func (t Target) Interval() time.Duration {
	if t.PollInterval <= 0 {
		return 0
	}
	return time.Duration(t.PollInterval) * time.Second
}

// Occupancy is the current/maximum player (or connection) count.
type Occupancy struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// ProbeResult is the outcome of a single probe. It is never mutated after creation.
type ProbeResult struct {
	Healthy         bool          `json:"healthy"`
	Latency         time.Duration `json:"latency"`
	Occupancy       Occupancy     `json:"occupancy"`
	ProtocolVersion int           `json:"protocolVersion,omitempty"`
	Version         string        `json:"version,omitempty"`
	MOTD            string        `json:"motd,omitempty"`
	Error           string        `json:"error,omitempty"`
	CheckedAt       time.Time     `json:"checkedAt"`
}

// Unhealthy builds the result recorded when a probe fails.
func Unhealthy(err error, at time.Time) ProbeResult {
	r := ProbeResult{Healthy: false, CheckedAt: at}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
