package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ericfisherdev/keypanel/internal/application"
	"github.com/ericfisherdev/keypanel/internal/domain/model"
	"github.com/ericfisherdev/keypanel/internal/domain/port/driven"
)

// maxBodyBytes caps JSON request bodies. Batch requests carry key lists, so
// the cap is generous.
const maxBodyBytes = 1 << 20

// schedulerView is the read side of the reactivation scheduler.
type schedulerView interface {
	Status() model.SchedulerStatus
	ModelID() string
}

// Handler is the HTTP driving adapter that serves the admin API.
type Handler struct {
	keys      *application.KeyService
	batch     *application.BatchService
	tester    *application.TestService
	settings  *application.SettingsService
	scheduler schedulerView
	models    *application.ModelService
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	keys *application.KeyService,
	batch *application.BatchService,
	tester *application.TestService,
	settings *application.SettingsService,
	scheduler schedulerView,
	models *application.ModelService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		keys:      keys,
		batch:     batch,
		tester:    tester,
		settings:  settings,
		scheduler: scheduler,
		models:    models,
		logger:    logger,
		now:       time.Now,
	}
}

// NewRouter creates an http.Handler with all routes registered. The admin
// API is guarded by auth; /health stays open for container probes. CORS is
// enabled only when origins are given.
func NewRouter(h *Handler, auth *Authenticator, corsOrigins []string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(loggingMiddleware(logger))
	// Recovery inside logging so a recovered panic is still logged as a 500.
	r.Use(recoveryMiddleware(logger))

	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.Health)

	r.Route("/admin/api", func(r chi.Router) {
		r.With(auth.RequireStream).Get("/keys/test", h.StreamTest)

		r.Group(func(r chi.Router) {
			r.Use(auth.Require)

			r.Get("/keys", h.ListKeys)
			r.Post("/keys", h.AddKey)
			r.Delete("/keys", h.DeleteKey)
			r.Post("/keys/disable", h.DisableKey)
			r.Post("/keys/reactivate", h.ReactivateKey)
			r.Post("/keys/batch-add", h.BatchAdd)
			r.Post("/keys/batch-remove", h.BatchRemove)
			r.Post("/keys/test", h.PostTest)

			r.Get("/settings", h.GetSettings)
			r.Post("/settings", h.UpdateSettings)

			r.Get("/proxied-models", h.ListModels)
		})
	})

	return r
}

// ListKeys returns the pool in insertion order, optionally filtered by the
// status query parameter.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	var (
		keys []model.Key
		err  error
	)

	if s := r.URL.Query().Get("status"); s != "" {
		status := model.KeyStatus(s)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		keys, err = h.keys.ListByStatus(r.Context(), status)
	} else {
		keys, err = h.keys.List(r.Context())
	}
	if err != nil {
		h.logger.Error("failed to list keys", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]KeyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, toKeyResponse(k))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddKey pools a single key.
func (h *Handler) AddKey(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	key, err := h.keys.Add(r.Context(), req.Value, model.KeySourceUser)
	if err != nil {
		h.writeKeyError(w, "failed to add key", err)
		return
	}

	writeJSON(w, http.StatusCreated, toKeyResponse(key))
}

// DeleteKey removes a single key.
func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.keys.Delete(r.Context(), req.Value); err != nil {
		h.writeKeyError(w, "failed to delete key", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DisableKey marks a key disabled with an optional reason.
func (h *Handler) DisableKey(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	key, err := h.keys.Disable(r.Context(), req.Value, req.Reason)
	if err != nil {
		h.writeKeyError(w, "failed to disable key", err)
		return
	}

	writeJSON(w, http.StatusOK, toKeyResponse(key))
}

// ReactivateKey marks a key active again.
func (h *Handler) ReactivateKey(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	key, err := h.keys.Reactivate(r.Context(), req.Value)
	if err != nil {
		h.writeKeyError(w, "failed to reactivate key", err)
		return
	}

	writeJSON(w, http.StatusOK, toKeyResponse(key))
}

// BatchAdd pools every listed key, reporting per-item failures.
func (h *Handler) BatchAdd(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Keys) == 0 {
		writeError(w, http.StatusBadRequest, "keys must not be empty")
		return
	}

	result := h.batch.BatchAdd(r.Context(), req.Keys)
	resp := toBatchResponse(result)
	resp.AddedCount = &result.Succeeded

	writeJSON(w, http.StatusOK, resp)
}

// BatchRemove removes every listed key, reporting per-item failures.
func (h *Handler) BatchRemove(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Keys) == 0 {
		writeError(w, http.StatusBadRequest, "keys must not be empty")
		return
	}

	result := h.batch.BatchRemove(r.Context(), req.Keys)
	resp := toBatchResponse(result)
	resp.RemovedCount = &result.Succeeded

	writeJSON(w, http.StatusOK, resp)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   formatTime(h.now()),
	})
}

// decode reads a JSON body into v, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeKeyError maps key service errors to status codes.
func (h *Handler) writeKeyError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, application.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, driven.ErrKeyAlreadyExists):
		writeError(w, http.StatusConflict, "key already exists")
	case errors.Is(err, driven.ErrKeyNotFound):
		writeError(w, http.StatusNotFound, "key not found")
	default:
		h.logger.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
