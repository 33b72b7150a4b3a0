package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/chat"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/monitor"
)

// 请求体上限
const maxBodyBytes = 1 << 20

type healthResponse struct {
	Status   string                  `json:"status"`
	Version  string                  `json:"version,omitempty"`
	Sessions int                     `json:"sessions"`
	Backends []monitor.BackendStatus `json:"backends"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth 始终返回 200；任一后端不可达时 status 为 degraded。
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:   "healthy",
		Version:  s.deps.Version,
		Sessions: s.deps.Chat.Sessions(),
		Backends: []monitor.BackendStatus{},
	}
	if s.deps.Health != nil {
		if st := s.deps.Health.Status(); st != nil {
			resp.Backends = st
		}
	}
	for _, b := range resp.Backends {
		if !b.Up {
			resp.Status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTeam(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"team":   s.deps.Chat.Team(),
		"agents": s.deps.Chat.Agents(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reply, err := s.deps.Chat.Chat(r.Context(), req, nil)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case reply == nil:
		s.logger.Error("chat failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, engine.UserSafeMessage)
	default:
		// 运行出错时 Answer 已是面向用户的提示，原因记录在日志中
		if err != nil {
			s.logger.Warn("chat finished with error", zap.String("session_id", reply.SessionID), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	if s.deps.Decider == nil {
		writeError(w, http.StatusNotImplemented, "decision workflow not configured")
		return
	}
	var inc chat.Incident
	if err := decodeJSON(w, r, &inc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dec, err := s.deps.Decider.Decide(r.Context(), inc)
	if dec == nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("decision finished with error", zap.String("trace_id", dec.TraceID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	history, ok := s.deps.Chat.History(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "history": history})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.deps.Chat.Reset(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	s.deps.Chat.Remove(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
