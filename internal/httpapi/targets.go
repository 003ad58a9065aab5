package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"serverwatch/internal/eventbus"
	"serverwatch/internal/model"
	logx "serverwatch/pkg/logx"

	"github.com/google/uuid"
)

const minPollInterval = 10 // seconds

type targetRequest struct {
	Name         *string `json:"name"`
	Address      *string `json:"address"`
	Variant      *string `json:"variant"`
	PollInterval *int    `json:"pollInterval"`
	Active       *bool   `json:"active"`
}

// apply merges the set fields of req into t.
func (req targetRequest) apply(t *model.Target) error {
	if req.Name != nil {
		t.Name = strings.TrimSpace(*req.Name)
	}
	if req.Address != nil {
		t.Address = strings.TrimSpace(*req.Address)
	}
	if req.Variant != nil {
		v, ok := model.ParseVariant(*req.Variant)
		if !ok {
			return badRequest("unknown variant %q", *req.Variant)
		}
		t.Variant = v
	}
	if req.PollInterval != nil {
		if *req.PollInterval < minPollInterval {
			return badRequest("pollInterval must be >= %d seconds", minPollInterval)
		}
		t.PollInterval = *req.PollInterval
	}
	if req.Active != nil {
		t.Active = *req.Active
	}
	if t.Name == "" {
		return badRequest("name is required")
	}
	if t.Address == "" {
		return badRequest("address is required")
	}
	return nil
}

type statusSnapshot struct {
	Target        model.Target       `json:"target"`
	Status        *model.ProbeResult `json:"status"`
	Diagnostics   *model.Diagnostics `json:"diagnostics,omitempty"`
	UptimePercent float64            `json:"uptimePercent"`
	Monitoring    bool               `json:"monitoring"`
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := s.deps.Store.ListTargets(r.Context(), activeOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.Target{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	now := s.now()
	t := model.Target{
		ID:           uuid.New().String(),
		Variant:      model.VariantJava,
		PollInterval: s.deps.Settings.Get().DefaultPoll,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := req.apply(&t); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Store.CreateTarget(r.Context(), t); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("target created", logx.String("target", t.ID), logx.String("name", t.Name), logx.String("address", t.Address))
	s.publish(eventbus.TypeTargetUpdated, t)

	if t.Active {
		s.startMonitoring(t)
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req targetRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.deps.Store.GetTarget(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.apply(&t); err != nil {
		s.fail(w, r, err)
		return
	}
	t.UpdatedAt = s.now()
	if err := s.deps.Store.UpdateTarget(r.Context(), t); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("target updated", logx.String("target", t.ID), logx.Bool("active", t.Active))
	s.publish(eventbus.TypeTargetUpdated, t)

	if t.Active {
		if err := s.deps.Monitor.StartMonitoring(t); err != nil {
			s.log.Warn("re-arm failed", logx.String("target", t.ID), logx.Err(err))
		}
	} else {
		s.deps.Monitor.StopMonitoring(t.ID)
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.deps.Monitor.StopMonitoring(id)
	if err := s.deps.Store.DeleteTarget(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("target deleted", logx.String("target", id))
	s.publish(eventbus.TypeTargetRemoved, map[string]string{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTargetStatus(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Store.GetTarget(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	snap := statusSnapshot{
		Target:        t,
		Status:        t.LastStatus,
		UptimePercent: t.Stats.UptimePercent(),
		Monitoring:    s.deps.Monitor.IsMonitoring(t.ID),
	}
	if t.LastStatus != nil && t.LastStatus.Healthy {
		d := model.Diagnose(*t.LastStatus)
		snap.Diagnostics = &d
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCheckTarget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Monitor.CheckTarget(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.deps.Store.GetTarget(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// startMonitoring arms the poll timer and runs a first check in the
// background so the new target gets a status right away.
func (s *Server) startMonitoring(t model.Target) {
	if err := s.deps.Monitor.StartMonitoring(t); err != nil {
		s.log.Warn("arm failed", logx.String("target", t.ID), logx.Err(err))
		return
	}
	base := s.baseContext()
	go func() {
		ctx, cancel := context.WithTimeout(base, time.Minute)
		defer cancel()
		if err := s.deps.Monitor.CheckTarget(ctx, t.ID); err != nil {
			s.log.Warn("initial check failed", logx.String("target", t.ID), logx.Err(err))
		}
	}()
}

func (s *Server) publish(typ string, data any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
