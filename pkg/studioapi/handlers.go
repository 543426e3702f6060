package studioapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/vikashloomba/mcp-studio-go/pkg/mcpmgr"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}

// statusFor maps manager errors onto HTTP status codes.
func statusFor(err error) int {
	var terr *mcpmgr.TransportError
	switch {
	case errors.Is(err, mcpmgr.ErrServerNotFound):
		return http.StatusNotFound
	case errors.Is(err, mcpmgr.ErrDuplicateServer),
		errors.Is(err, mcpmgr.ErrServerBusy),
		errors.Is(err, mcpmgr.ErrAlreadyInProgress),
		errors.Is(err, mcpmgr.ErrAlreadyConnected),
		errors.Is(err, mcpmgr.ErrServerNotConnected):
		return http.StatusConflict
	case errors.Is(err, mcpmgr.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.As(err, &terr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	respondError(w, err.Error(), statusFor(err))
}

// decodeBody reads an optional JSON body into dst. It reports false after
// writing a 400 response.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, "failed to read request body", http.StatusBadRequest)
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		if errors.Is(err, mcpmgr.ErrInvalidConfig) {
			respondError(w, err.Error(), http.StatusBadRequest)
		} else {
			respondError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		}
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, map[string]any{"status": "ok", "servers": len(s.manager.ListServers())}, http.StatusOK)
}

func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, map[string]any{"servers": s.manager.Servers()}, http.StatusOK)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	summary, err := s.manager.Server(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, summary, http.StatusOK)
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var cfg mcpmgr.ServerConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	if cfg.ID == "" {
		cfg.ID = ulid.Make().String()
	}
	if err := s.manager.AddServer(r.Context(), cfg); err != nil {
		s.fail(w, err)
		return
	}
	s.respondSummary(w, cfg.ID, http.StatusCreated)
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var cfg mcpmgr.ServerConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	if cfg.ID == "" {
		cfg.ID = id
	}
	if cfg.ID != id {
		respondError(w, fmt.Sprintf("body id %q does not match path id %q", cfg.ID, id), http.StatusBadRequest)
		return
	}
	if err := s.manager.UpdateServer(r.Context(), cfg); err != nil {
		s.fail(w, err)
		return
	}
	s.respondSummary(w, id, http.StatusOK)
}

func (s *Server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.RemoveServer(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Connect(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	s.respondSummary(w, id, http.StatusOK)
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Reconnect(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	s.respondSummary(w, id, http.StatusOK)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Disconnect(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	s.respondSummary(w, id, http.StatusOK)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Ping(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondSummary(w http.ResponseWriter, id string, status int) {
	summary, err := s.manager.Server(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, summary, status)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.ListTools(r.Context(), chi.URLParam(r, "id"), nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.ListPrompts(r.Context(), chi.URLParam(r, "id"), nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.ListResources(r.Context(), chi.URLParam(r, "id"), nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var args map[string]any
	if !decodeBody(w, r, &args) {
		return
	}
	res, err := s.manager.CallTool(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), args)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	var args map[string]string
	if !decodeBody(w, r, &args) {
		return
	}
	res, err := s.manager.GetPrompt(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), args)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (s *Server) handleReadResource(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		respondError(w, "uri query parameter is required", http.StatusBadRequest)
		return
	}
	res, err := s.manager.ReadResource(r.Context(), chi.URLParam(r, "id"), uri)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

// logFilter parses the server and level query parameters shared by the log
// endpoints.
func logFilter(r *http.Request) (mcpmgr.Filter, error) {
	q := r.URL.Query()
	f := mcpmgr.Filter{ServerID: q.Get("server")}
	if level := q.Get("level"); level != "" {
		sev, err := mcpmgr.ParseSeverity(level)
		if err != nil {
			return f, err
		}
		f.MinSeverity = sev
	}
	return f, nil
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	f, err := logFilter(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries := s.manager.Log().Entries(f)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		if limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}
	if entries == nil {
		entries = []mcpmgr.LogEntry{}
	}
	respondJSON(w, map[string]any{"entries": entries}, http.StatusOK)
}

// handleLogStream pushes new log entries as server-sent events until the
// client goes away.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	f, err := logFilter(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()
	entries := s.manager.Log().Subscribe(ctx, f, s.opts.StreamBuffer)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				s.opts.Logger.Warn("failed to encode log entry", "id", e.ID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: log\ndata: %s\n\n", e.ID, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
