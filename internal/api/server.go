// Package api exposes the reconstruction pipeline's HTTP surface: job submission, status, abort,
// resume, health, metrics, and websocket streams for live token progress and the audit trail.
// Grounded on the teacher's internal/api/server.go chi.Router wiring (rate limiter in front of
// the write endpoint, telemetry mounted at /metrics), generalized from a generic task-enqueue
// endpoint to the job lifecycle this pipeline actually has.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"coherentrecon/internal/apierr"
	"coherentrecon/internal/audit"
	"coherentrecon/internal/config"
	"coherentrecon/internal/controller"
	"coherentrecon/internal/models"
	"coherentrecon/internal/queue"
	"coherentrecon/internal/ratelimit"
	"coherentrecon/internal/store"
	"coherentrecon/internal/streamhub"
	"coherentrecon/internal/telemetry"
	"coherentrecon/internal/wordutil"
)

// Server wires HTTP handlers for the reconstruction pipeline's API process.
type Server struct {
	cfg        config.Config
	store      *store.Store
	queue      *queue.RedisQueue
	limiter    *ratelimit.TokenBucket
	controller *controller.Controller
	hub        *streamhub.Hub
	auditLog   *audit.Log
	upgrader   websocket.Upgrader
}

// New constructs the API server. controller may be nil in an API-process-only deployment where a
// separate worker process owns job execution; abort then only appends an audit event, and resume
// only touches the queue and store.
func New(cfg config.Config, st *store.Store, q *queue.RedisQueue, limiter *ratelimit.TokenBucket, ctrl *controller.Controller, hub *streamhub.Hub, auditLog *audit.Log) *Server {
	return &Server{
		cfg:        cfg,
		store:      st,
		queue:      q,
		limiter:    limiter,
		controller: ctrl,
		hub:        hub,
		auditLog:   auditLog,
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Post("/jobs/{id}/abort", s.handleAbort)
	r.Post("/jobs/{id}/resume", s.handleResume)

	r.Get("/ws/cc-stream", s.handleStreamWS)
	r.Get("/ws/audit", s.handleAuditWS)

	return r
}

// Input size bounds, spec §6: documents shorter than minInputWords aren't worth chunking, and
// documents longer than maxInputWords are rejected rather than silently truncated.
const (
	minInputWords = 501
	maxInputWords = 50000
)

type submitRequest struct {
	SourceText   string            `json:"source_text"`
	Instructions string            `json:"instructions"`
	TargetMin    int               `json:"target_min"`
	TargetMax    int               `json:"target_max"`
	Params       models.UserParams `json:"params"`
}

type submitResponse struct {
	Job models.Job `json:"job"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.InvalidInput("invalid json body"))
		return
	}
	if req.SourceText == "" {
		apierr.Write(w, apierr.InvalidInput("source_text is required"))
		return
	}

	tenant := tenantFromRequest(r)
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), fmt.Sprintf("rl:%s", tenant))
		if err != nil {
			apierr.Write(w, apierr.Internal("rate limit check failed", err))
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			apierr.Write(w, apierr.RateLimited("rate limited, try again shortly"))
			return
		}
	}

	inputWords := wordutil.CountWords(req.SourceText)
	if inputWords < minInputWords || inputWords > maxInputWords {
		apierr.Write(w, apierr.InvalidInput(fmt.Sprintf(
			"source_text must be between %d and %d words, got %d", minInputWords, maxInputWords, inputWords)))
		return
	}

	length := wordutil.CalculateLengthConfig(inputWords, req.TargetMin, req.TargetMax, req.Instructions)
	req.Params.Instructions = req.Instructions

	job, err := s.store.CreateJob(r.Context(), models.Job{
		ID:             uuid.New().String(),
		SourceText:     req.SourceText,
		InputWordCount: inputWords,
		Length:         length,
		Params:         req.Params,
	})
	if err != nil {
		apierr.Write(w, apierr.Internal("create job failed", err))
		return
	}

	if err := s.queue.Enqueue(r.Context(), job.ID, "default", time.Now()); err != nil {
		msg := err.Error()
		_ = s.store.UpdateJobStatus(r.Context(), job.ID, models.StatusFailed, -1, &msg)
		apierr.Write(w, apierr.Internal("enqueue failed", err))
		return
	}
	telemetry.JobsStarted.Inc()

	writeJSON(w, http.StatusAccepted, submitResponse{Job: job})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		apierr.Write(w, apierr.NotFound("job not found"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleAbort requests an abort at the next chunk boundary. If a controller is wired into this
// process it is signalled in memory immediately; either way a job_aborted audit event is appended.
// The job's stored status is not changed here, so a worker in another process is not signalled.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		apierr.Write(w, apierr.NotFound("job not found"))
		return
	}
	if s.controller != nil {
		s.controller.Abort(id)
	}
	if s.auditLog != nil {
		_, _ = s.auditLog.Append(r.Context(), id, models.EventJobAborted, map[string]string{"source": "api_abort_request"})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "abort_requested"})
}

// handleResume re-enqueues a failed or aborted job so a worker picks it up and the Job Controller
// resumes from job.CurrentChunk.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		apierr.Write(w, apierr.NotFound("job not found"))
		return
	}
	if job.Status != models.StatusFailed && job.Status != models.StatusAborted {
		apierr.Write(w, apierr.Conflict("job is not in a resumable state"))
		return
	}
	if err := s.queue.Enqueue(r.Context(), job.ID, "default", time.Now()); err != nil {
		apierr.Write(w, apierr.Internal("enqueue failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resume_requested"})
}

// handleStreamWS upgrades to a websocket and relays job-scoped Stream Hub events (token progress,
// chunk completion, stage transitions) to the client until it disconnects.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" || s.hub == nil {
		apierr.Write(w, apierr.InvalidInput("job_id query parameter is required"))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	obs := s.hub.Subscribe(jobID)
	defer s.hub.Unsubscribe(obs)

	for event := range obs.Events() {
		body, err := streamhub.Marshal(event)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			return
		}
	}
}

// handleAuditWS upgrades to a websocket and relays the job's append-only audit log: first its
// full history, then live events as they're appended.
func (s *Server) handleAuditWS(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" || s.auditLog == nil {
		apierr.Write(w, apierr.InvalidInput("job_id query parameter is required"))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	history, err := s.auditLog.History(r.Context(), jobID)
	if err == nil {
		for _, evt := range history {
			body, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		}
	}

	ch := s.auditLog.Watch(r.Context(), jobID)
	for evt := range ch {
		body, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			return
		}
	}
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
