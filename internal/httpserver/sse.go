package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amcp-dev/amcp/internal/protocol"
	"github.com/amcp-dev/amcp/pkg/model"
)

// allEventKinds is every kind in spec §6.3's closed taxonomy except
// SHUTDOWN, which process shutdown handles out of band rather than
// publishing to long-lived subscribers.
var allEventKinds = []model.EventKind{
	model.EventSessionCreated, model.EventSessionDeleted, model.EventSessionStatusChanged,
	model.EventMessageStart, model.EventMessageChunk, model.EventMessageComplete, model.EventMessageError,
	model.EventToolCallStart, model.EventToolCallComplete, model.EventToolCallError,
	model.EventAgentThinking, model.EventAgentIdle,
	model.EventPromptReceived, model.EventPromptStarted, model.EventPromptQueued, model.EventPromptRejected,
	model.EventContextCompacted,
}

// handleAllEvents implements GET /events: every session's events, unfiltered.
func (s *Server) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	s.streamSSE(w, r, "")
}

// handleSessionEvents implements GET /sessions/{id}/events: one session's
// events only.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		writeError(w, model.ErrSessionNotFound, err.Error())
		return
	}
	s.streamSSE(w, r, id)
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, sessionFilter string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, model.ErrInternal, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := make(chan model.Event, 64)
	var ids []string
	for _, kind := range allEventKinds {
		id := s.bus.Subscribe(kind, func(evt model.Event) error {
			select {
			case ch <- evt:
			default:
			}
			return nil
		}, model.PriorityNormalH, sessionFilter, false)
		ids = append(ids, id)
	}
	defer func() {
		for _, id := range ids {
			s.bus.Unsubscribe(id)
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			frame, err := protocol.SSEFrame(protocol.EventFromModel(evt))
			if err != nil {
				continue
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
