// Package httpapi serves the JSON admin API, the status snapshot endpoint and
// the live-update websocket stream.
package httpapi

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"serverwatch/internal/eventbus"
	"serverwatch/internal/model"
	"serverwatch/internal/notifier"
	"serverwatch/internal/settings"
	"serverwatch/internal/storage"
	logx "serverwatch/pkg/logx"
)

type Config struct {
	Addr            string
	Token           string // optional bearer token required on /api/*
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	Pprof           bool
}

// Store is the slice of storage.Store the API reads and writes.
type Store interface {
	ListTargets(ctx context.Context, activeOnly bool) ([]model.Target, error)
	GetTarget(ctx context.Context, id string) (model.Target, error)
	CreateTarget(ctx context.Context, t model.Target) error
	UpdateTarget(ctx context.Context, t model.Target) error
	DeleteTarget(ctx context.Context, id string) error
	ListIncidents(ctx context.Context, f storage.IncidentFilter) ([]model.Incident, error)
	ListNotifications(ctx context.Context, f storage.NotificationFilter) ([]model.NotificationRecord, error)
}

// Monitor is implemented by scheduler.Poller.
type Monitor interface {
	StartMonitoring(t model.Target) error
	StopMonitoring(id string)
	IsMonitoring(id string) bool
	CheckTarget(ctx context.Context, id string) error
}

// Resolver is implemented by incident.Ledger.
type Resolver interface {
	Resolve(ctx context.Context, id string) (model.Incident, error)
}

type SettingsService interface {
	Get() settings.Settings
	Update(ctx context.Context, kv map[string]string) (settings.Settings, error)
}

type ChannelLister interface {
	Channels() []notifier.ChannelInfo
}

type Deps struct {
	Store    Store
	Monitor  Monitor
	Resolver Resolver
	Settings SettingsService
	Channels ChannelLister
	Bus      eventbus.Bus
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time

	handler http.Handler

	mu   sync.Mutex
	srv  *http.Server
	base context.Context
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log.With(logx.String("comp", "http")),
		now:  time.Now,
		base: context.Background(),
	}
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.logRequests(mux)
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.requireToken(h))
	}
	api("GET /api/targets", s.handleListTargets)
	api("POST /api/targets", s.handleCreateTarget)
	api("PATCH /api/targets/{id}", s.handleUpdateTarget)
	api("DELETE /api/targets/{id}", s.handleDeleteTarget)
	api("GET /api/targets/{id}/status", s.handleTargetStatus)
	api("POST /api/targets/{id}/check", s.handleCheckTarget)
	api("GET /api/incidents", s.handleListIncidents)
	api("POST /api/incidents/{id}/resolve", s.handleResolveIncident)
	api("GET /api/notifications", s.handleListNotifications)
	api("GET /api/settings", s.handleGetSettings)
	api("PUT /api/settings", s.handlePutSettings)
	api("GET /api/channels", s.handleChannels)
	api("GET /api/stream", s.handleStream)

	if s.cfg.Pprof {
		s.registerPprof(mux)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.srv = srv
	s.base = ctx
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http shutdown incomplete", logx.Err(err))
		_ = srv.Close()
	}
	<-errCh
	s.log.Info("http api stopped")
	return nil
}

// baseContext is cancelled when the server stops; hijacked stream
// connections watch it because Shutdown does not track them.
func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": s.now().UTC()})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	if s.cfg.Token == "" {
		return next
	}
	want := []byte("Bearer " + s.cfg.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if q := r.URL.Query().Get("token"); q != "" && r.URL.Path == "/api/stream" {
			// Browsers cannot set headers on websocket upgrades.
			if subtle.ConstantTimeCompare([]byte(q), []byte(s.cfg.Token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is needed by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.status),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, settings.ErrInvalid), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var (
	errBadRequest     = errors.New("bad request")
	errStreamDisabled = errors.New("live stream unavailable")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.log.Error("request failed", logx.String("method", r.Method), logx.String("path", r.URL.Path), logx.Err(err))
	}
	writeError(w, code, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

func parseLimit(r *http.Request, fallback, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}
