package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/suraboy/weather-insight/internal/runtime"
	"github.com/suraboy/weather-insight/internal/tools"
	"github.com/suraboy/weather-insight/internal/types"
)

const writeWait = 10 * time.Second

// Frames sent to the browser.
type stateFrame struct {
	Type string `json:"type"`
	runtime.Snapshot
}

type navigateFrame struct {
	Type  string            `json:"type"`
	Route tools.Route       `json:"route"`
	Path  string            `json:"path"`
	Query map[string]string `json:"query,omitempty"`
	URL   string            `json:"url"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// clientFrame is sent by the browser: {"type":"message","text":"..."} or
// {"type":"cancel"}.
type clientFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// serveWS binds one session to one browser connection for its lifetime.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	wc := &wsConn{conn: conn}
	defer conn.Close()

	nav := tools.NavigatorFunc(func(ctx context.Context, route tools.Route, query map[string]string) error {
		return wc.send(navigateFrame{
			Type:  "navigate",
			Route: route,
			Path:  route.Path(),
			Query: query,
			URL:   tools.Link(s.opts.AppURL, route, query),
		})
	})

	key := types.NewSessionKey("ws", string(types.NewSessionID()))
	// The session outlives the upgrade request's context.
	sess, _ := s.sessions.Resolve(context.Background(), key, nav)
	defer s.sessions.Close(key)

	unsubscribe := sess.Subscribe(func(snap runtime.Snapshot) {
		if err := wc.send(stateFrame{Type: "state", Snapshot: snap}); err != nil {
			slog.Debug("websocket state push failed", "session", sess.ID, "error", err)
		}
	})
	defer unsubscribe()

	if err := wc.send(stateFrame{Type: "state", Snapshot: sess.Snapshot()}); err != nil {
		return
	}
	if !sess.Available() {
		wc.send(errorFrame{Type: "error", Error: runtime.ErrUnavailable.Error()})
	}
	slog.Info("websocket connected", "session", sess.ID, "remote", r.RemoteAddr)

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "session", sess.ID, "error", err)
			}
			return
		}
		switch frame.Type {
		case "message":
			s.sessions.Go(sess, frame.Text, func(turn *runtime.Turn, err error) {
				if err != nil {
					wc.send(errorFrame{Type: "error", Error: err.Error()})
				}
			})
		case "cancel":
			sess.Cancel()
		default:
			wc.send(errorFrame{Type: "error", Error: "unknown frame type " + frame.Type})
		}
	}
}
