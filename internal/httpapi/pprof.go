package httpapi

import (
	"net/http"
	hpprof "net/http/pprof"

	logx "serverwatch/pkg/logx"
)

// registerPprof mounts the runtime profiling handlers behind the API token.
func (s *Server) registerPprof(mux *http.ServeMux) {
	mux.Handle("GET /debug/pprof/", s.requireToken(http.HandlerFunc(hpprof.Index)))
	mux.Handle("GET /debug/pprof/cmdline", s.requireToken(http.HandlerFunc(hpprof.Cmdline)))
	mux.Handle("GET /debug/pprof/profile", s.requireToken(http.HandlerFunc(hpprof.Profile)))
	mux.Handle("GET /debug/pprof/symbol", s.requireToken(http.HandlerFunc(hpprof.Symbol)))
	mux.Handle("GET /debug/pprof/trace", s.requireToken(http.HandlerFunc(hpprof.Trace)))
	s.log.Info("pprof mounted", logx.String("prefix", "/debug/pprof/"))
}
