package serve

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Dicklesworthstone/keepalive/internal/events"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  "healthy",
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"status": s.ctrl.Status(),
	}, requestIDFromContext(r.Context()))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(); err != nil {
		s.logger.Warn("[Serve] control", "op", "start", "error", err)
		writeErrorResponse(w, http.StatusConflict, ErrCodeConflict, err.Error()+"; reset first", nil, requestIDFromContext(r.Context()))
		return
	}
	s.logger.Info("[Serve] control", "op", "start")
	s.writeControl(w, r)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Stop()
	s.logger.Info("[Serve] control", "op", "stop")
	s.writeControl(w, r)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	active := s.ctrl.Toggle()
	s.logger.Info("[Serve] control", "op", "toggle", "active", active)
	s.writeControl(w, r)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Reset()
	s.logger.Info("[Serve] control", "op", "reset")
	s.writeControl(w, r)
}

func (s *Server) writeControl(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Status()
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"active": st.Active,
		"status": st,
	}, requestIDFromContext(r.Context()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if s.history == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "journal not available", nil, reqID)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be between 1 and 1000", nil, reqID)
			return
		}
		limit = n
	}
	runID := r.URL.Query().Get("run")

	entries, err := s.history.Recent(limit, runID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil, reqID)
		return
	}
	out := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"entries": out,
		"count":   len(out),
	}, reqID)
}

// handleEvents streams bus events as server-sent events. ?replay=N first
// sends up to N retained events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if s.bus == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "event stream not available", nil, reqID)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, "streaming not supported", nil, reqID)
		return
	}

	replay := 0
	if raw := r.URL.Query().Get("replay"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "replay must be a non-negative integer", nil, reqID)
			return
		}
		replay = n
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	clientCh := make(chan events.Event, 100)
	unsubscribe := s.bus.Subscribe(func(ev events.Event) {
		select {
		case clientCh <- ev:
		default:
			// slow client
		}
	})
	defer unsubscribe()

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"time\":\"%s\"}\n\n",
		time.Now().UTC().Format(time.RFC3339))
	if replay > 0 {
		for _, ev := range s.bus.History(replay) {
			writeSSE(w, ev)
		}
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-clientCh:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}
