package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"serverwatch/internal/model"
	logx "serverwatch/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeStatusAPIOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/java/mc.example.org:25565", r.URL.Path)
		_, _ = w.Write([]byte(`{"online":true,"players":{"online":20,"max":20},
			"version":{"name_clean":"1.20.4","protocol":765},"motd":{"clean":" hello "}}`))
	}))
	defer srv.Close()

	c := New(Config{StatusAPI: srv.URL + "/"}, logx.Nop())
	r, err := c.Probe(context.Background(), "mc.example.org:25565", model.VariantJava)
	require.NoError(t, err)
	require.True(t, r.Healthy)
	require.Equal(t, model.Occupancy{Current: 20, Max: 20}, r.Occupancy)
	require.Equal(t, 765, r.ProtocolVersion)
	require.Equal(t, "1.20.4", r.Version)
	require.Equal(t, "hello", r.MOTD)
	require.False(t, r.CheckedAt.IsZero())
}

func TestProbeStatusAPIOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/bedrock/"))
		_, _ = w.Write([]byte(`{"online":false}`))
	}))
	defer srv.Close()

	r, err := New(Config{StatusAPI: srv.URL}, logx.Nop()).Probe(context.Background(), "pe.example.org", model.VariantBedrock)
	require.NoError(t, err)
	require.False(t, r.Healthy)
	require.Equal(t, "server offline", r.Error)
}

func TestProbeStatusAPIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(Config{StatusAPI: srv.URL}, logx.Nop()).Probe(context.Background(), "x", model.VariantJava)
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestProbeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{StatusAPI: srv.URL, Timeout: 50 * time.Millisecond}, logx.Nop())
	start := time.Now()
	_, err := c.Probe(context.Background(), "slow", model.VariantJava)
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestProbeTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	c := New(Config{}, logx.Nop())
	r, err := c.Probe(context.Background(), ln.Addr().String(), model.VariantTCP)
	require.NoError(t, err)
	require.True(t, r.Healthy)

	_, err = c.Probe(context.Background(), "no-port", model.VariantTCP)
	require.Error(t, err)
}

func TestProbeHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{}, logx.Nop())
	r, err := c.Probe(context.Background(), srv.URL, model.VariantHTTP)
	require.NoError(t, err)
	require.True(t, r.Healthy)

	r, err = c.Probe(context.Background(), strings.TrimPrefix(srv.URL, "http://")+"/broken", model.VariantHTTP)
	require.NoError(t, err)
	require.False(t, r.Healthy)
	require.Contains(t, r.Error, "502")
}

func TestProbeUnsupportedVariant(t *testing.T) {
	_, err := New(Config{}, logx.Nop()).Probe(context.Background(), "x", model.Variant("gopher"))
	require.ErrorIs(t, err, ErrUnsupportedVariant)
}
