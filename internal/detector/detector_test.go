package detector

import (
	"testing"
	"time"

	"serverwatch/internal/model"

	"github.com/stretchr/testify/require"
)

func kinds(issues []model.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Kind)
	}
	return out
}

func TestDetect(t *testing.T) {
	target := model.Target{Name: "Lobby", Address: "lobby.example.org"}
	cases := []struct {
		name   string
		res    model.ProbeResult
		minVer int
		want   []string
	}{
		{"healthy", model.ProbeResult{Healthy: true, Latency: 50 * time.Millisecond}, 0, []string{}},
		{"offline", model.ProbeResult{Healthy: false, Error: "timeout"}, 0, []string{model.KindTargetOffline}},
		{"latency boundary", model.ProbeResult{Healthy: true, Latency: time.Second}, 0, []string{}},
		{"slow", model.ProbeResult{Healthy: true, Latency: 1001 * time.Millisecond}, 0, []string{model.KindHighLatency}},
		{"full", model.ProbeResult{Healthy: true, Occupancy: model.Occupancy{Current: 20, Max: 20}}, 0, []string{model.KindFullCapacity}},
		{"empty max", model.ProbeResult{Healthy: true, Occupancy: model.Occupancy{Current: 0, Max: 0}}, 0, []string{}},
		{"old version", model.ProbeResult{Healthy: true, ProtocolVersion: 754}, 765, []string{model.KindVersionMismatch}},
		{"unknown version", model.ProbeResult{Healthy: true, ProtocolVersion: 0}, 765, []string{}},
		{"version check disabled", model.ProbeResult{Healthy: true, ProtocolVersion: 754}, 0, []string{}},
		{"slow and full", model.ProbeResult{Healthy: true, Latency: 2 * time.Second, Occupancy: model.Occupancy{Current: 5, Max: 5}}, 0,
			[]string{model.KindHighLatency, model.KindFullCapacity}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, kinds(Detect(target, tc.res, tc.minVer)))
		})
	}
}

func TestDetectSeverities(t *testing.T) {
	issues := Detect(model.Target{Name: "x"}, model.ProbeResult{Healthy: false, Latency: 3 * time.Second}, 0)
	require.Len(t, issues, 2)
	require.Equal(t, model.SeverityCritical, issues[0].Severity)
	require.Contains(t, issues[0].Title, "offline")
	require.Equal(t, model.SeverityWarning, issues[1].Severity)
}
