package httpapi

import (
	"errors"
	"net/http"

	"serverwatch/internal/incident"
	"serverwatch/internal/model"
	"serverwatch/internal/storage"
)

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.IncidentFilter{
		TargetID: q.Get("targetId"),
		Status:   q.Get("status"),
		Limit:    parseLimit(r, 100, 1000),
	}
	switch model.IncidentStatus(f.Status) {
	case "", model.IncidentActive, model.IncidentResolved:
	default:
		s.fail(w, r, badRequest("unknown status %q", f.Status))
		return
	}
	list, err := s.deps.Store.ListIncidents(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.Incident{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := s.deps.Resolver.Resolve(r.Context(), r.PathValue("id"))
	if errors.Is(err, incident.ErrAlreadyResolved) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.deps.Store.ListNotifications(r.Context(), storage.NotificationFilter{
		IncidentID: q.Get("incidentId"),
		Channel:    q.Get("channel"),
		Limit:      parseLimit(r, 100, 1000),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.NotificationRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}
