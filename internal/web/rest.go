package web

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/suraboy/weather-insight/internal/runtime"
	"github.com/suraboy/weather-insight/internal/tools"
	"github.com/suraboy/weather-insight/internal/types"
)

type sessionResponse struct {
	ID        types.SessionID `json:"id"`
	Available bool            `json:"available"`
	runtime.Snapshot
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Outcome runtime.Outcome `json:"outcome"`
	Rounds  int             `json:"rounds"`
	Calls   int             `json:"calls"`
	Reply   types.Message   `json:"reply"`
	Visits  []tools.Visit   `json:"visits"`
}

// createSession opens a session whose navigations are collected and
// returned with each reply.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	rec := &tools.Recorder{}
	key := types.NewSessionKey("rest", string(types.NewSessionID()))
	sess, _ := s.sessions.Resolve(r.Context(), key, rec)

	s.mu.Lock()
	s.recorders[sess.ID] = rec
	s.mu.Unlock()

	respondJSON(w, http.StatusCreated, sessionResponse{ID: sess.ID, Available: sess.Available(), Snapshot: sess.Snapshot()})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*runtime.Session, bool) {
	id := types.SessionID(chi.URLParam(r, "sessionID"))
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{ID: sess.ID, Available: sess.Available(), Snapshot: sess.Snapshot()})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Close(sess.Key); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.mu.Lock()
	delete(s.recorders, sess.ID)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turn, err := s.sessions.Submit(r.Context(), sess, req.Text)
	if err != nil {
		slog.Debug("submission rejected", "session", sess.ID, "error", err)
		respondError(w, submitStatus(err), err.Error())
		return
	}

	var visits []tools.Visit
	s.mu.Lock()
	if rec := s.recorders[sess.ID]; rec != nil {
		visits = rec.Drain()
	}
	s.mu.Unlock()
	if visits == nil {
		visits = []tools.Visit{}
	}

	respondJSON(w, http.StatusOK, messageResponse{
		Outcome: turn.Outcome,
		Rounds:  turn.Rounds,
		Calls:   turn.Calls,
		Reply:   turn.Reply,
		Visits:  visits,
	})
}

func (s *Server) cancelTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": sess.Cancel()})
}
