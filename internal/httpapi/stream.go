package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"serverwatch/internal/eventbus"
	logx "serverwatch/pkg/logx"

	"github.com/gorilla/websocket"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
	streamPongWait     = 75 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(u.Host), strings.TrimSpace(r.Host))
	},
}

// handleStream upgrades to a websocket and forwards public bus events as JSON
// text frames. Delivery is best-effort: a slow client misses events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, errStreamDisabled)
		return
	}
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	events, unsub := s.deps.Bus.Subscribe(streamBuffer,
		eventbus.TypeTargetUpdated, eventbus.TypeTargetRemoved,
		eventbus.TypeIncidentOpened, eventbus.TypeIncidentResolved)
	defer unsub()
	s.serveStream(conn, events)
}

func (s *Server) serveStream(conn *websocket.Conn, events <-chan eventbus.Event) {
	defer conn.Close()
	log := s.log.With(logx.String("remote", conn.RemoteAddr().String()))
	log.Debug("stream opened")
	defer log.Debug("stream closed")

	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	// Inbound frames are ignored; reading surfaces the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()
	stop := s.baseContext().Done()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case <-done:
			return
		case <-stop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(streamWriteTimeout))
			return
		}
	}
}
