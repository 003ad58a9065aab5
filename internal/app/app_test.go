package app

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"serverwatch/internal/model"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "serverwatch.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestAppLifecycleSeedsAndChecks(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	p := writeConfig(t, `
logging:
  level: error
  console: false
storage:
  driver: memory
http:
  enabled: false
monitor:
  targets:
    - name: Local
      address: `+ln.Addr().String()+`
      variant: tcp
      poll_interval: 30
`)
	a, err := NewApp(p)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool {
		list, err := a.store.ListTargets(context.Background(), false)
		if err != nil || len(list) != 1 || list[0].LastStatus == nil {
			return false
		}
		return list[0].LastStatus.Healthy && list[0].Stats.TotalChecks >= 1
	}, 5*time.Second, 20*time.Millisecond)

	list, err := a.store.ListTargets(context.Background(), false)
	require.NoError(t, err)
	require.True(t, a.poller.IsMonitoring(list[0].ID))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	require.NoError(t, a.Err())
}

func TestSeedTargetsOnlyOnEmptyStore(t *testing.T) {
	p := writeConfig(t, `
logging: {console: false}
storage: {driver: memory}
http: {enabled: false}
monitor:
  targets:
    - {name: A, address: a.example.org}
    - {name: B, address: b.example.org, variant: bedrock}
`)
	a, err := NewApp(p)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, a.seedTargets(ctx))
	list, err := a.store.ListTargets(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, tg := range list {
		require.Equal(t, 60, tg.PollInterval)
		if tg.Name == "B" {
			require.Equal(t, model.VariantBedrock, tg.Variant)
		}
	}

	require.NoError(t, a.seedTargets(ctx))
	list, err = a.store.ListTargets(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	_, err := NewApp(writeConfig(t, "storage: {driver: mongo}\n"))
	require.Error(t, err)

	_, err = NewApp(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
