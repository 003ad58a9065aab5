package model

import "time"

// Diagnostics is derived from a ProbeResult for the status snapshot.
type Diagnostics struct {
	LatencyQuality string  `json:"latencyQuality"`
	LoadHigh       bool    `json:"loadHigh"`
	LoadPercent    float64 `json:"loadPercent"`
}

func LatencyQuality(d time.Duration) string {
	ms := d.Milliseconds()
	switch {
	case ms < 100:
		return "excellent"
	case ms < 300:
		return "good"
	case ms < 500:
		return "fair"
	default:
		return "poor"
	}
}

func Diagnose(r ProbeResult) Diagnostics {
	d := Diagnostics{LatencyQuality: LatencyQuality(r.Latency)}
	if r.Occupancy.Max > 0 {
		d.LoadPercent = float64(r.Occupancy.Current) * 100 / float64(r.Occupancy.Max)
		d.LoadHigh = d.LoadPercent > 80
	}
	return d
}
