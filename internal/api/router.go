package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/searchforge/candidate_merge/internal/controller"
	"github.com/searchforge/candidate_merge/internal/health"
	"github.com/searchforge/candidate_merge/merge"
	"github.com/searchforge/candidate_merge/obs"
)

const traceHeader = "X-Trace-Id"

// Router wires the HTTP endpoints for the merge gateway.
type Router struct {
	controller *controller.Controller
}

// NewRouter constructs the HTTP router.
func NewRouter(ctrl *controller.Controller) (*chi.Mux, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("controller is required")
	}
	r := &Router{controller: ctrl}

	mux := chi.NewRouter()
	mux.Get("/healthz", r.handleHealthz)
	mux.Get("/readyz", health.Readyz(ctrl))
	mux.Post("/v1/sessions", r.handleCreateSession)
	mux.Post("/v1/sessions/{id}/results", r.handleGeneratorResults)
	mux.Post("/v1/sessions/{id}/timeout", r.handleTimeout)
	mux.Get("/v1/sessions/{id}", r.handleStats)

	return mux, nil
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleCreateSession(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	traceID := ensureTraceID(w, req)

	var body CreateSessionRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		observe(w, "BAD_REQUEST", start, traceID, err.Error(), http.StatusBadRequest)
		return
	}
	if err := body.Validate(); err != nil {
		observe(w, "BAD_REQUEST", start, traceID, err.Error(), http.StatusBadRequest)
		return
	}

	sessionID, err := r.controller.CreateSession(controller.CreateParams{
		BudgetMS:  body.BudgetMS,
		Threshold: body.LSRSufficiencyThreshold,
		Config: merge.Config{
			MaxNumLSR:    body.MaxNumLSR,
			MaxNumESR:    body.MaxNumESR,
			LSRBatchSize: body.LSRBatchSize,
			Weights:      body.WeightTable(),
		},
	})
	if err != nil {
		observe(w, "BAD_REQUEST", start, traceID, err.Error(), http.StatusBadRequest)
		return
	}

	obs.ObserveRequest("OK", time.Since(start), traceID)
	writeJSON(w, CreateSessionResponse{SessionID: sessionID})
}

func (r *Router) handleGeneratorResults(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	traceID := ensureTraceID(w, req)
	sessionID := chi.URLParam(req, "id")

	var body GeneratorResultsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		observe(w, "BAD_REQUEST", start, traceID, err.Error(), http.StatusBadRequest)
		return
	}
	for i := range body.Results {
		body.Results[i].ItemID = normalizeItemID(body.Results[i].ItemID)
	}
	if err := body.Validate(); err != nil {
		observe(w, "BAD_REQUEST", start, traceID, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := ContextWithTraceID(req.Context(), traceID)
	err := r.controller.OnGeneratorCompletion(ctx, sessionID, body.GeneratorID, body.Results)
	if errors.Is(err, controller.ErrSessionNotFound) {
		observe(w, "NOT_FOUND", start, traceID, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		observe(w, "BAD_REQUEST", start, traceID, err.Error(), http.StatusBadRequest)
		return
	}

	obs.ObserveRequest("OK", time.Since(start), traceID)
	w.WriteHeader(http.StatusAccepted)
}

func (r *Router) handleTimeout(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	traceID := ensureTraceID(w, req)
	sessionID := chi.URLParam(req, "id")

	ctx := ContextWithTraceID(req.Context(), traceID)
	selected, err := r.controller.TriggerTimeout(ctx, sessionID)
	if errors.Is(err, controller.ErrSessionNotFound) {
		observe(w, "NOT_FOUND", start, traceID, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		observe(w, "ERROR", start, traceID, err.Error(), http.StatusInternalServerError)
		return
	}

	if selected == nil {
		selected = []merge.ScoredItem{}
	}
	obs.ObserveRequest("OK", time.Since(start), traceID)
	writeJSON(w, TimeoutResponse{Items: selected})
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	traceID := ensureTraceID(w, req)
	sessionID := chi.URLParam(req, "id")

	stats, err := r.controller.Stats(sessionID)
	if errors.Is(err, controller.ErrSessionNotFound) {
		observe(w, "NOT_FOUND", start, traceID, err.Error(), http.StatusNotFound)
		return
	}

	obs.ObserveRequest("OK", time.Since(start), traceID)
	writeJSON(w, stats)
}

func ensureTraceID(w http.ResponseWriter, req *http.Request) string {
	traceID := req.Header.Get(traceHeader)
	if traceID == "" {
		traceID = req.URL.Query().Get("trace_id")
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	w.Header().Set(traceHeader, traceID)
	return traceID
}

// normalizeItemID folds Unicode variants so the same item reported by two
// generators dedups correctly.
func normalizeItemID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return id
	}
	return norm.NFKC.String(id)
}

func observe(w http.ResponseWriter, code string, start time.Time, traceID, message string, status int) {
	obs.ObserveRequest(code, time.Since(start), traceID)
	http.Error(w, message, status)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
