package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseVariant(t *testing.T) {
	cases := []struct {
		in   string
		want Variant
		ok   bool
	}{
		{"java", VariantJava, true},
		{" Bedrock ", VariantBedrock, true},
		{"", VariantJava, true},
		{"tcp", VariantTCP, true},
		{"gopher", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseVariant(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestLatencyQuality(t *testing.T) {
	require.Equal(t, "excellent", LatencyQuality(99*time.Millisecond))
	require.Equal(t, "good", LatencyQuality(100*time.Millisecond))
	require.Equal(t, "fair", LatencyQuality(499*time.Millisecond))
	require.Equal(t, "poor", LatencyQuality(500*time.Millisecond))
}

func TestDiagnoseLoad(t *testing.T) {
	d := Diagnose(ProbeResult{Occupancy: Occupancy{Current: 81, Max: 100}})
	require.True(t, d.LoadHigh)

	d = Diagnose(ProbeResult{Occupancy: Occupancy{Current: 80, Max: 100}})
	require.False(t, d.LoadHigh)

	d = Diagnose(ProbeResult{})
	require.False(t, d.LoadHigh)
	require.Zero(t, d.LoadPercent)
}

func TestUptimePercent(t *testing.T) {
	require.Zero(t, Stats{}.UptimePercent())
	require.InDelta(t, 75.0, Stats{TotalChecks: 4, UptimeChecks: 3}.UptimePercent(), 0.001)
}

func TestIncidentDowntime(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(12 * time.Minute)
	inc := Incident{CreatedAt: start, ResolvedAt: &end}
	require.Equal(t, 12*time.Minute, inc.Downtime(start.Add(time.Hour)))

	open := Incident{CreatedAt: start}
	require.Equal(t, 5*time.Minute, open.Downtime(start.Add(5*time.Minute)))
}

func TestUnhealthy(t *testing.T) {
	at := time.Now()
	r := Unhealthy(errors.New("refused"), at)
	require.False(t, r.Healthy)
	require.Equal(t, "refused", r.Error)
	require.Equal(t, at, r.CheckedAt)
}
