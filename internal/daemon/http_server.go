package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/relforge/internal/logfields"
	"git.home.luguber.info/inful/relforge/internal/metrics"
	"git.home.luguber.info/inful/relforge/internal/pipeline"
	"git.home.luguber.info/inful/relforge/internal/version"
)

// Server is the daemon's HTTP surface: webhook intake, manual dispatch,
// status, health and optionally Prometheus metrics.
type Server struct {
	daemon *Daemon
	server *http.Server
}

// NewServer builds the HTTP server from the daemon configuration.
func NewServer(d *Daemon) *Server {
	s := &Server{daemon: d}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/push", s.handlePush)
	mux.HandleFunc("POST /webhooks/pull_request", s.handlePullRequest)
	mux.HandleFunc("POST /api/dispatch", s.handleDispatch)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRunDetail)
	mux.HandleFunc("GET /api/runs/{id}/summary", s.handleRunSummary)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if d.Config().Daemon.Metrics && d.registry != nil {
		mux.Handle("GET /metrics", metrics.HTTPHandler(d.registry))
	}

	s.server = &http.Server{
		Addr:              d.Config().Daemon.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", logfields.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// pushPayload is the webhook body for branch pushes.
type pushPayload struct {
	Ref string `json:"ref"`
}

// prPayload is the webhook body for pull request events.
type prPayload struct {
	Ref      string `json:"ref"`
	MergeRef string `json:"merge_ref,omitempty"`
	Draft    bool   `json:"draft,omitempty"`
	Action   string `json:"action,omitempty"`
}

// dispatchPayload is the manual dispatch body. An empty ref builds the
// trunk branch.
type dispatchPayload struct {
	Ref string `json:"ref,omitempty"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var payload pushPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Ref == "" {
		writeError(w, http.StatusBadRequest, "invalid push payload")
		return
	}
	s.accept(w, pipeline.Trigger{Kind: pipeline.TriggerPush, Ref: payload.Ref})
}

func (s *Server) handlePullRequest(w http.ResponseWriter, r *http.Request) {
	var payload prPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Ref == "" {
		writeError(w, http.StatusBadRequest, "invalid pull request payload")
		return
	}
	s.accept(w, pipeline.Trigger{
		Kind:     pipeline.TriggerPullRequest,
		Ref:      payload.Ref,
		MergeRef: payload.MergeRef,
		Draft:    payload.Draft,
	})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var payload dispatchPayload
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid dispatch payload")
			return
		}
	}
	s.accept(w, pipeline.Trigger{Kind: pipeline.TriggerManual, Ref: payload.Ref})
}

// accept admits or rejects a trigger. Admitted triggers run asynchronously;
// the response only acknowledges intake.
func (s *Server) accept(w http.ResponseWriter, trigger pipeline.Trigger) {
	if err := s.daemon.Dispatch(trigger); err != nil {
		var rejected *pipeline.RejectedError
		if errors.As(err, &rejected) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": rejected.Reason})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"trigger": string(trigger.Kind),
		"ref":     trigger.Ref,
	})
}

// statusResponse is the /api/status body.
type statusResponse struct {
	Project  string            `json:"project"`
	Version  string            `json:"version"`
	Variants []string          `json:"variants"`
	InFlight map[string]string `json:"in_flight"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.daemon.Config()
	variants := make([]string, 0, len(cfg.Variants))
	for _, v := range cfg.Variants {
		variants = append(variants, v.Name)
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Project:  cfg.Project.Name,
		Version:  version.Version,
		Variants: variants,
		InFlight: s.daemon.dispatcher().InFlight(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.daemon.store == nil {
		writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	runs, err := s.daemon.store.RecentRuns(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.daemon.store == nil {
		writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	jobs, err := s.daemon.store.JobsForRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(jobs) == 0 {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("writing response", logfields.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
