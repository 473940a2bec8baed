// Package api is the admin HTTP surface: monitor registration, status
// projection, force-checks, soft delete, and a live status stream. It is a
// thin wrapper over the store and the dispatch queue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"linkwatch/internal/queue"
	"linkwatch/internal/store"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultIntervalMS = 60000
const minIntervalMS = 1000

// Enqueuer appends jobs to the dispatch queue. Force-check handlers use it
// but never own or close it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.HealthCheckJob, critical bool) error
}

// API holds the handler dependencies.
type API struct {
	store  store.Store
	enq    Enqueuer
	hub    *Hub
	secret string
	logger *zap.SugaredLogger
}

// New builds the API. hub may be nil when the status stream is disabled.
func New(st store.Store, enq Enqueuer, hub *Hub, apiSecret string, logger *zap.SugaredLogger) *API {
	return &API{
		store:  st,
		enq:    enq,
		hub:    hub,
		secret: apiSecret,
		logger: logger.With("component", "api"),
	}
}

// Routes wires the handler tree.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /monitors/register", a.requireAuth(http.HandlerFunc(a.handleRegister)))
	mux.Handle("POST /monitors/batch", a.requireAuth(http.HandlerFunc(a.handleBatch)))
	mux.Handle("POST /monitors/{id}/force-check", a.requireAuth(http.HandlerFunc(a.handleForceCheck)))
	mux.Handle("GET /monitors/{id}", a.requireAuth(http.HandlerFunc(a.handleGet)))
	mux.Handle("DELETE /monitors/{id}", a.requireAuth(http.HandlerFunc(a.handleDelete)))
	mux.Handle("GET /monitors/stream", a.requireAuth(http.HandlerFunc(a.handleStream)))

	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "linkwatch",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// registerRequest mirrors the admin contract; convex identifiers are opaque
// keys carried through to the history sink.
type registerRequest struct {
	ConvexURLID  string `json:"convexUrlId"`
	ConvexUserID string `json:"convexUserId"`
	LongURL      string `json:"longUrl"`
	ShortURL     string `json:"shortUrl"`
	IntervalMS   *int64 `json:"intervalMs"`
	Environment  string `json:"environment"`
}

func (r *registerRequest) validate() string {
	if r.ConvexURLID == "" {
		return "convexUrlId is required"
	}
	if r.ConvexUserID == "" {
		return "convexUserId is required"
	}
	if r.LongURL == "" {
		return "longUrl is required"
	}
	if r.IntervalMS != nil && *r.IntervalMS < minIntervalMS {
		return "intervalMs must be at least 1000"
	}
	switch r.Environment {
	case "", store.EnvDev, store.EnvProd:
		return ""
	default:
		return "environment must be dev or prod"
	}
}

func (r *registerRequest) toMonitor() *store.Monitor {
	interval := int64(defaultIntervalMS)
	if r.IntervalMS != nil {
		interval = *r.IntervalMS
	}
	env := r.Environment
	if env == "" {
		env = store.EnvProd
	}
	return &store.Monitor{
		ID:           uuid.NewString(),
		ConvexURLID:  r.ConvexURLID,
		ConvexUserID: r.ConvexUserID,
		LongURL:      r.LongURL,
		ShortURL:     r.ShortURL,
		Environment:  env,
		IntervalMS:   interval,
	}
}

func (a *API) register(ctx context.Context, req *registerRequest) (map[string]any, error) {
	m := req.toMonitor()
	created, err := a.store.CreateMonitor(ctx, m)
	if err != nil {
		return nil, err
	}
	if !created {
		return map[string]any{"success": true, "message": "Already registered"}, nil
	}
	a.logger.Infow("monitor registered",
		"link_id", m.ID, "convex_url_id", m.ConvexURLID, "interval_ms", m.IntervalMS)
	return map[string]any{"success": true, "linkId": m.ID}, nil
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	resp, err := a.register(r.Context(), &req)
	if err != nil {
		a.logger.Errorw("register failed", "convex_url_id", req.ConvexURLID, "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []registerRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	results := make([]map[string]any, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		if msg := req.validate(); msg != "" {
			results = append(results, map[string]any{"success": false, "message": msg})
			continue
		}
		resp, err := a.register(r.Context(), req)
		if err != nil {
			a.logger.Errorw("batch register failed", "convex_url_id", req.ConvexURLID, "error", err)
			results = append(results, map[string]any{"success": false, "message": "registration failed"})
			continue
		}
		results = append(results, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

// handleForceCheck enqueues an out-of-band check at high priority. The
// schedule is untouched: next_check_at stays where the scheduler left it.
func (a *API) handleForceCheck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	m, err := a.store.GetMonitor(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	if err != nil {
		a.logger.Errorw("force-check lookup failed", "link_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !m.IsActive {
		writeError(w, http.StatusConflict, "monitor is not active")
		return
	}

	job := queue.HealthCheckJob{
		LinkID:       m.ID,
		ConvexURLID:  m.ConvexURLID,
		ConvexUserID: m.ConvexUserID,
		LongURL:      m.LongURL,
		ShortURL:     m.ShortURL,
		Environment:  m.Environment,
	}
	if err := a.enq.Enqueue(r.Context(), job, true); err != nil {
		a.logger.Errorw("force-check enqueue failed", "link_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	a.logger.Infow("force-check queued", "link_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Check queued"})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	m, err := a.store.GetMonitor(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	if err != nil {
		a.logger.Errorw("monitor lookup failed", "link_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := a.store.DeactivateMonitor(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	if err != nil {
		a.logger.Errorw("deactivate failed", "link_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "deactivate failed")
		return
	}

	a.logger.Infow("monitor deactivated", "link_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "message": msg})
}
