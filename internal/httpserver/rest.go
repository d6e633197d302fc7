package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/amcp-dev/amcp/internal/agentloop"
	"github.com/amcp-dev/amcp/internal/protocol"
	"github.com/amcp-dev/amcp/internal/session"
	"github.com/amcp-dev/amcp/pkg/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       "amcp",
		"uptime_sec": int(time.Since(s.start).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":   len(sessions),
		"tools":      len(s.registry.List()),
		"agents":     len(s.agents),
		"uptime_sec": int(time.Since(s.start).Seconds()),
	})
}

type createSessionRequest struct {
	Cwd       string `json:"cwd"`
	AgentName string `json:"agent_name"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, model.ErrInvalidJSON, err.Error())
		return
	}
	sess, err := s.sessions.Create(req.Cwd, req.AgentName)
	if err != nil {
		writeError(w, model.ErrAgentNotFound, err.Error())
		return
	}
	s.bus.Emit(model.Event{Kind: model.EventSessionCreated, SessionID: sess.ID})
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.sessions.List()
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, model.ErrSessionNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Delete(id); err != nil {
		writeError(w, model.ErrSessionNotFound, err.Error())
		return
	}
	s.bus.Emit(model.Event{Kind: model.EventSessionDeleted, SessionID: id})
	w.WriteHeader(http.StatusNoContent)
}

type promptRequest struct {
	Content     string             `json:"content"`
	Priority    model.Priority     `json:"priority"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	Strategy    string             `json:"conflict_strategy,omitempty"`
	Stream      bool               `json:"stream"`
}

// handlePrompt implements POST /sessions/{id}/prompt: a JSON body or, if
// the client negotiates streaming (stream:true or Accept:
// text/event-stream), a newline-delimited protocol.StreamFrame body
// (spec §6.1). A busy session under "reject" returns 409 SESSION_BUSY.
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.ErrInvalidJSON, err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, model.ErrValidation, "content is required")
		return
	}

	strategy := session.ConflictQueue
	if req.Strategy == string(session.ConflictReject) {
		strategy = session.ConflictReject
	}

	s.bus.Emit(model.Event{Kind: model.EventPromptReceived, SessionID: id, Payload: map[string]any{"content": req.Content}})

	result, err := s.sessions.Prompt(r.Context(), id, req.Content, req.Priority, req.Attachments, strategy)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, model.ErrSessionNotFound, err.Error())
			return
		}
		s.metrics.PromptsTotal.WithLabelValues("rejected").Inc()
		writeError(w, model.ErrSessionBusy, err.Error())
		return
	}

	if result.Queued {
		s.metrics.PromptsTotal.WithLabelValues("queued").Inc()
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
		return
	}
	s.metrics.PromptsTotal.WithLabelValues("started").Inc()

	if req.Stream || r.Header.Get("Accept") == "text/event-stream" {
		s.streamPromptResponse(w, result)
		return
	}

	frames := make([]protocol.StreamFrame, 0, 8)
	for chunk := range result.Chunks {
		frames = append(frames, frameFromChunk(chunk))
	}
	writeJSON(w, http.StatusOK, map[string]any{"frames": frames})
}

func (s *Server) streamPromptResponse(w http.ResponseWriter, result session.PromptResult) {
	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for chunk := range result.Chunks {
		_ = enc.Encode(frameFromChunk(chunk))
		if canFlush {
			flusher.Flush()
		}
	}
}

type cancelRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.sessions.Cancel(id, req.Force); err != nil {
		writeError(w, model.ErrConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := s.registry.List()
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"source":      t.Source(),
			"schema":      json.RawMessage(t.Schema()),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type executeToolRequest struct {
	Args json.RawMessage `json:"args"`
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req executeToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, model.ErrInvalidJSON, err.Error())
		return
	}
	result := s.registry.Execute(r.Context(), "", name, req.Args, 0)
	status := "success"
	if !result.Success {
		status = "error"
	}
	s.metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
	if !result.Success && result.ErrorCode == string(model.ErrToolNotFound) {
		writeError(w, model.ErrToolNotFound, result.Content)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]model.AgentSpec, 0, len(names))
	for _, name := range names {
		out = append(out, s.agents[name])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	spec, ok := s.agents[name]
	if !ok {
		writeError(w, model.ErrAgentNotFound, "unknown agent "+name)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

// frameFromChunk translates one agent-loop response chunk into the wire
// frame a prompt's response body (streaming or buffered) emits.
func frameFromChunk(chunk agentloop.ResponseChunk) protocol.StreamFrame {
	if chunk.Err != nil {
		return protocol.StreamFrame{Kind: protocol.StreamError, Error: &protocol.WireError{Code: chunk.Err.Code, Message: chunk.Err.Message}}
	}
	return protocol.StreamFrameFromChunk(chunk.Kind, chunk.Text, chunk.ToolCall, chunk.ToolResult, nil, "")
}
