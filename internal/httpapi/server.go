// Package httpapi exposes the control plane's operator/CLI-facing HTTP
// surface: start a session, stop it, check its status, and (optionally)
// scrape Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cdp-agent/browserctl/internal/agentloop"
	"github.com/cdp-agent/browserctl/internal/bridge"
	"github.com/cdp-agent/browserctl/internal/cdp"
	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/internal/metrics"
	"github.com/cdp-agent/browserctl/internal/session"
	"github.com/cdp-agent/browserctl/internal/storage"
	"github.com/cdp-agent/browserctl/pkg/model"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the minimal control-plane HTTP surface: POST /sessions starts
// a session and spawns its agent loop in the background, POST
// /sessions/{id}/stop tears it down, GET /sessions/{id} reports status.
type Server struct {
	controller *session.Controller
	driver     *cdp.Driver
	transport  bridge.Transport
	store      *storage.Store
	metrics    *metrics.Collector
	log        ilog.Logger
	mux        *http.ServeMux
}

// New wires a Server around the already-constructed control plane
// components. metrics may be nil when the config disables it.
func New(controller *session.Controller, driver *cdp.Driver, transport bridge.Transport, store *storage.Store, mc *metrics.Collector, l ilog.Logger) *Server {
	if l == nil {
		l = ilog.NewNop()
	}
	s := &Server{
		controller: controller,
		driver:     driver,
		transport:  transport,
		store:      store,
		metrics:    mc,
		log:        l.With("component", "httpapi.Server"),
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("POST /sessions", s.handleStart)
	s.mux.HandleFunc("POST /sessions/{id}/stop", s.handleStop)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleStatus)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", promhttp.Handler())
	}
}

type startRequest struct {
	Goal     string `json:"goal"`
	Model    string `json:"model"`
	MaxSteps int    `json:"maxSteps"`
	Tab      int64  `json:"tab"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decode request: "+err.Error(), http.StatusBadRequest)
		return
	}

	cfg := model.SessionConfig{Goal: req.Goal, Model: req.Model, MaxSteps: req.MaxSteps}
	sess, err := s.controller.Start(r.Context(), cfg, model.TabHandle(req.Tab))
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionStarted()
	}

	loop := agentloop.New(s.driver, s.transport, s.store, sess, s.log)
	go s.runLoop(sess, loop)

	writeJSON(w, http.StatusAccepted, statusPayload(sess))
}

func (s *Server) runLoop(sess *session.Session, loop *agentloop.Loop) {
	started := time.Now()
	outcome, err := loop.Run(context.Background())
	sess.SetOutcome(outcome)
	if err != nil {
		s.log.Warn("agent loop ended with error", "sessionID", string(sess.ID), "err", err.Error())
	}
	if s.metrics != nil {
		s.metrics.SessionFinished(string(outcome), time.Since(started))
	}
	if serr := s.controller.Stop(context.Background(), sess.ID); serr != nil && serr != session.ErrNoSuchSession {
		s.log.Warn("post-loop session cleanup failed", "sessionID", string(sess.ID), "err", serr.Error())
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := model.SessionID(r.PathValue("id"))
	if err := s.controller.Stop(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := model.SessionID(r.PathValue("id"))
	sess, ok := s.controller.Active()
	if !ok || sess.ID != id {
		http.Error(w, "no such session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, statusPayload(sess))
}

func statusPayload(sess *session.Session) map[string]any {
	return map[string]any{
		"sessionId": string(sess.ID),
		"state":     string(sess.State()),
		"goal":      sess.Goal,
		"outcome":   string(sess.Outcome()),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
