package httpapi

import (
	"net/http"
	"strconv"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Get())
}

// handlePutSettings accepts a flat object of setting keys to scalar values.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeBody(w, r, &raw); err != nil {
		s.fail(w, r, err)
		return
	}
	kv := make(map[string]string, len(raw))
	for k, v := range raw {
		str, ok := scalar(v)
		if !ok {
			s.fail(w, r, badRequest("%s: expected a string, number or boolean", k))
			return
		}
		kv[k] = str
	}
	st, err := s.deps.Settings.Update(r.Context(), kv)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Channels.Channels())
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}
