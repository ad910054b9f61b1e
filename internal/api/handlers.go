package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/codevat/runbox/internal/auth"
	"github.com/codevat/runbox/internal/engine"
	"github.com/codevat/runbox/internal/job"
	"github.com/codevat/runbox/internal/store"
)

// maxRequestBody caps submissions; anything larger is a validation error.
const maxRequestBody = 1 << 20

type SubmitRequest struct {
	Source     string          `json:"source"`
	Args       []string        `json:"args"`
	InputFiles []job.InputFile `json:"input_files"`
}

type SubmitResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

type ResultView struct {
	Stdout       string  `json:"stdout"`
	Stderr       string  `json:"stderr"`
	Crashed      bool    `json:"crashed"`
	TimedOut     bool    `json:"timed_out"`
	PeakMemoryMB float64 `json:"peak_memory_mb"`
	PeakCPUPct   float64 `json:"peak_cpu_pct"`
	ExecutionMS  int64   `json:"execution_ms"`
}

type JobView struct {
	JobID       string      `json:"job_id"`
	Status      job.Status  `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Result      *ResultView `json:"result,omitempty"`
}

type Handler struct {
	store      store.Store
	engine     *engine.Engine
	logger     *zerolog.Logger
	serviceTag string
}

func NewHandler(st store.Store, eng *engine.Engine, logger *zerolog.Logger, serviceTag string) *Handler {
	return &Handler{
		store:      st,
		engine:     eng,
		logger:     logger,
		serviceTag: serviceTag,
	}
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}
	for _, f := range req.InputFiles {
		if !safeFileName(f.Name) {
			http.Error(w, "invalid input file name: "+f.Name, http.StatusBadRequest)
			return
		}
	}

	// Claim an execution slot before anything durable exists; a rejected
	// submission leaves no not_started job behind.
	if !h.engine.Reserve() {
		http.Error(w, "execution capacity exhausted", http.StatusTooManyRequests)
		return
	}

	id, err := h.store.CreateJob(r.Context(), job.Seed{
		Owner:      auth.Owner(r),
		Source:     req.Source,
		Args:       req.Args,
		InputFiles: req.InputFiles,
	})
	if err != nil {
		h.engine.Release()
		h.logger.Error().Err(err).Msg("failed to create job")
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}

	h.engine.Run(id)
	h.logger.Info().Str("job_id", id).Msg("job submitted")

	writeJSON(w, http.StatusOK, SubmitResponse{JobID: id, Status: job.StatusNotStarted})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	j, err := h.store.GetJob(r.Context(), id, auth.Owner(r))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", id).Msg("failed to fetch job")
		http.Error(w, "failed to fetch job", http.StatusInternalServerError)
		return
	}

	view := JobView{
		JobID:       j.ID,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Status == job.StatusDone {
		view.Result = &ResultView{
			Stdout:       j.Stdout,
			Stderr:       j.Stderr,
			Crashed:      j.Crashed,
			TimedOut:     j.TimedOut,
			PeakMemoryMB: j.PeakMemoryMB,
			PeakCPUPct:   j.PeakCPUPct,
			ExecutionMS:  j.ExecutionMS,
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	jobs, err := h.store.ListJobs(r.Context(), auth.Owner(r), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list jobs")
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]job.Summary{"jobs": jobs})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": h.serviceTag,
	})
}

// safeFileName admits plain names only: no separators, no traversal, and
// nothing that could collide with the staged source file.
func safeFileName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return false
	}
	if name == engine.SourceFileName {
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
