// Package api exposes the brain over HTTP: a JSON ask endpoint, tool
// and version listings, a health check, and a websocket variant of ask
// that streams resolution progress.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"

	"reeve/internal/brain"
	"reeve/internal/buildinfo"
	"reeve/internal/llm"
	"reeve/internal/tools"
)

// Service is what the handlers need from the brain. *brain.Brain
// satisfies it; tests substitute a fake.
type Service interface {
	Ask(ctx context.Context, conversationID, input string, progress llm.Progress) brain.Response
	Tools() *tools.Registry
	Stats() map[string]any
}

// Server serves the HTTP API.
type Server struct {
	svc      Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates the API server around a service.
func NewServer(svc Service, logger *slog.Logger) *Server {
	return &Server{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ask", s.handleAsk)
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

type askRequest struct {
	Input          string `json:"input"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	resp := s.svc.Ask(r.Context(), req.ConversationID, req.Input, nil)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	registry := s.svc.Tools()

	if r.URL.Query().Get("format") == "html" {
		var buf strings.Builder
		if err := goldmark.Convert([]byte(registry.Catalog()), &buf); err != nil {
			s.logger.Error("render tool catalog", "error", err)
			writeError(w, http.StatusInternalServerError, "render failed")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(buf.String()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tools": registry.Descriptors(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"uptime": buildinfo.Uptime().Round(time.Second).String(),
	}
	for k, v := range s.svc.Stats() {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// streamFrame is one websocket message on /v1/stream. Progress frames
// arrive during resolution; exactly one result frame ends the exchange.
type streamFrame struct {
	Type     string          `json:"type"` // progress | result | error
	Percent  float64         `json:"percent,omitempty"`
	Status   string          `json:"status,omitempty"`
	Response *brain.Response `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var req askRequest
	if err := conn.ReadJSON(&req); err != nil {
		conn.WriteJSON(streamFrame{Type: "error", Error: "invalid request frame"})
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		conn.WriteJSON(streamFrame{Type: "error", Error: "input is required"})
		return
	}

	// Progress callbacks fire on the pipeline goroutine, strictly
	// sequentially, so writing frames from them is safe here.
	progress := func(percent float64, status string) {
		conn.WriteJSON(streamFrame{Type: "progress", Percent: percent, Status: status})
	}

	resp := s.svc.Ask(r.Context(), req.ConversationID, req.Input, progress)
	if err := conn.WriteJSON(streamFrame{Type: "result", Response: &resp}); err != nil {
		s.logger.Warn("write result frame", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
