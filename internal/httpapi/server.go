// Package httpapi exposes the daemon over HTTP: synchronous /chat plus
// read-only status, session and cost views.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lucyd-ai/lucyd/internal/cost"
	"github.com/lucyd-ai/lucyd/internal/dispatch"
	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/session"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// Config tunes the HTTP listener. An empty Listen disables the API.
type Config struct {
	Listen      string        `toml:"listen"`
	BearerToken string        `toml:"bearer_token"`
	ChatTimeout time.Duration `toml:"chat_timeout"`
}

// Server wires the dispatcher and read-only views into HTTP handlers.
type Server struct {
	server     *http.Server
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
	ledger     *cost.Ledger // may be nil
	config     Config

	mu        sync.Mutex
	startedAt time.Time
	wg        sync.WaitGroup
}

// New creates the server; call Start to begin listening.
func New(cfg Config, dispatcher *dispatch.Dispatcher, sessions *session.Manager, ledger *cost.Ledger) *Server {
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = 2 * time.Minute
	}
	s := &Server{
		dispatcher: dispatcher,
		sessions:   sessions,
		ledger:     ledger,
		config:     cfg,
	}
	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ChatTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.auth(h))
	}
	mux.HandleFunc("/chat", wrap(s.handleChat))
	mux.HandleFunc("/status", wrap(s.handleStatus))
	mux.HandleFunc("/sessions", wrap(s.handleSessions))
	mux.HandleFunc("/cost", wrap(s.handleCost))
	return mux
}

// Start begins listening in the background.
func (s *Server) Start() {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("httpapi: listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			L_error("httpapi: server error", "error", err)
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// ChatRequest is the /chat request body.
type ChatRequest struct {
	Text       string            `json:"text"`
	Sender     string            `json:"sender"`
	Tier       string            `json:"tier,omitempty"`
	NotifyMeta map[string]string `json:"notify_meta,omitempty"`
}

// ChatResponse is the /chat reply body.
type ChatResponse struct {
	Reply     string      `json:"reply"`
	SessionID string      `json:"session_id"`
	Silent    bool        `json:"silent,omitempty"`
	Tokens    types.Usage `json:"tokens"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("bad request body: %v", err))
		return
	}
	if req.Text == "" || req.Sender == "" {
		httpError(w, http.StatusBadRequest, "text and sender are required")
		return
	}

	fut := make(dispatch.Future, 1)
	msg := types.InboundMessage{
		Text:       req.Text,
		Sender:     req.Sender,
		Source:     types.SourceHTTP,
		Tier:       req.Tier,
		NotifyMeta: req.NotifyMeta,
		Timestamp:  time.Now().Unix(),
	}
	if err := s.dispatcher.Enqueue(msg, fut); err != nil {
		httpError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	select {
	case out := <-fut:
		if out.Err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":      out.Err.Error(),
				"session_id": out.SessionID,
			})
			return
		}
		writeJSON(w, http.StatusOK, ChatResponse{
			Reply:     out.Reply,
			SessionID: out.SessionID,
			Silent:    out.Silent,
			Tokens:    out.Usage,
		})
	case <-time.After(s.config.ChatTimeout):
		httpError(w, http.StatusGatewayTimeout, "chat timed out")
	case <-r.Context().Done():
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.startedAt
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(started).Round(time.Second).String(),
		"sessions": len(s.sessions.Sessions()),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Sessions())
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"today": cost.Summary{}, "all_time": cost.Summary{}, "by_model": map[string]cost.Summary{},
		})
		return
	}
	today, err := s.ledger.Today()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	allTime, err := s.ledger.Aggregate(time.Time{}, time.Now())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byModel, err := s.ledger.ByModel(time.Time{}, time.Now())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"today": today, "all_time": allTime, "by_model": byModel})
}

func (s *Server) auth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.BearerToken != "" {
			want := "Bearer " + s.config.BearerToken
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				httpError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		h(w, r)
	}
}

func (s *Server) logRequest(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(lw, r)
		L_trace("httpapi: request", "method", r.Method, "path", r.URL.Path,
			"status", lw.status, "duration", time.Since(start))
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_warn("httpapi: response encode failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
