// Package api exposes the job orchestrator over HTTP: job submission,
// status polling, a job listing, and a per-job SSE event stream.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arvhal/replagent/internal/adapters/source"
	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
	"github.com/arvhal/replagent/internal/core/services"
)

type Server struct {
	logger *slog.Logger
	orch   *services.Orchestrator
	bus    *services.EventBus

	corpusDir string // backing directory for "dir" sources, empty disables
	demoSeed  int64
}

func NewServer(logger *slog.Logger, orch *services.Orchestrator, bus *services.EventBus, corpusDir string, demoSeed int64) *Server {
	return &Server{
		logger:    logger,
		orch:      orch,
		bus:       bus,
		corpusDir: corpusDir,
		demoSeed:  demoSeed,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", s.handleStartJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{jobID}", s.handleJobStatus)
		r.Get("/{jobID}/events", s.handleJobEvents)
	})
	return r
}

type startJobRequest struct {
	Query        string          `json:"query"`
	Scenario     string          `json:"scenario,omitempty"`
	MaxDocuments int             `json:"max_documents,omitempty"`
	Source       sourceSpec      `json:"source"`
	Documents    []inlineDocSpec `json:"documents,omitempty"` // shorthand for source.type=inline
}

type sourceSpec struct {
	Type      string          `json:"type"` // demo | dir | inline
	Count     int             `json:"count,omitempty"`
	Documents []inlineDocSpec `json:"documents,omitempty"`
}

type inlineDocSpec struct {
	Locator string `json:"locator"`
	Content string `json:"content"`
}

type startJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	src, err := s.buildSource(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.orch.StartJob(r.Context(), services.StartRequest{
		Query:        req.Query,
		Source:       src,
		MaxDocuments: req.MaxDocuments,
		Scenario:     domain.Scenario(req.Scenario),
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, startJobResponse{
		JobID:  string(jobID),
		Status: string(domain.JobStatusQueued),
	})
}

// buildSource maps the wire-level source spec onto a document source
// adapter. Inline documents may be given at the top level or inside the
// source object; the top level wins.
func (s *Server) buildSource(req startJobRequest) (ports.DocumentSource, error) {
	docs := req.Documents
	if len(docs) == 0 {
		docs = req.Source.Documents
	}

	typ := req.Source.Type
	if typ == "" {
		if len(docs) > 0 {
			typ = "inline"
		} else {
			typ = "demo"
		}
	}

	switch typ {
	case "inline":
		raw := make([]domain.RawDocument, len(docs))
		for i, d := range docs {
			if d.Locator == "" {
				d.Locator = fmt.Sprintf("inline-%d", i)
			}
			raw[i] = domain.RawDocument{Locator: d.Locator, Content: d.Content}
		}
		return source.NewInlineSource(raw), nil
	case "dir":
		if s.corpusDir == "" {
			return nil, errors.New("directory sources are not configured on this server")
		}
		return source.NewDirSource(s.corpusDir)
	case "demo":
		return source.NewDemoSource(req.Source.Count, s.demoSeed), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", typ)
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "jobID"))

	job, err := s.orch.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("status lookup failed", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": s.orch.Jobs(r.Context())})
}

// handleJobEvents streams job progress over SSE until the client goes away
// or the job record turns terminal.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "jobID"))

	if _, err := s.orch.Status(r.Context(), id); err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsub := s.bus.Subscribe(id)
	defer unsub()

	// Re-read after subscribing: a job that finished before (or while) the
	// subscription was set up publishes nothing more, so replay its terminal
	// state and end the stream.
	if snap, err := s.orch.Status(r.Context(), id); err == nil && snap.Terminal() {
		s.writeEvent(w, flusher, id, services.Event{
			JobID:   id,
			Type:    services.EventTypeStatus,
			Status:  snap.Status,
			Message: snap.Message,
			Percent: snap.Progress,
		})
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			s.writeEvent(w, flusher, id, evt)
			if evt.Status.Terminal() {
				return
			}
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, id domain.JobID, evt services.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("failed to marshal event", "job_id", id, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
	flusher.Flush()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
