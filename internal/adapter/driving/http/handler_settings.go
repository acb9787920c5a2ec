package httphandler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/keypanel/internal/application"
	"github.com/ericfisherdev/keypanel/internal/domain/model"
)

// settingsUpdatedMessage acknowledges a saved settings change.
const settingsUpdatedMessage = "Settings updated successfully."

// GetSettings returns the reactivation config in effect and the scheduler
// status.
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.settingsResponse(h.settings.Reactivation(), ""))
}

// UpdateSettings merges the supplied reactivation fields into the current
// config, validates and saves it, and restarts the scheduler.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.AutoReactivation == nil {
		writeError(w, http.StatusBadRequest, "auto_reactivation is required")
		return
	}

	patch := *req.AutoReactivation
	saved, err := h.settings.Update(r.Context(), func(cur model.ReactivationConfig) (model.ReactivationConfig, error) {
		return mergeReactivation(cur, patch)
	})
	if err != nil {
		if errors.Is(err, application.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to update settings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, h.settingsResponse(saved, settingsUpdatedMessage))
}

func (h *Handler) settingsResponse(cfg model.ReactivationConfig, message string) SettingsResponse {
	return SettingsResponse{
		Message:          message,
		AutoReactivation: toReactivationSettings(cfg),
		Scheduler:        toSchedulerStatus(h.scheduler.Status()),
		ProbeModel:       h.scheduler.ModelID(),
	}
}

// mergeReactivation applies the non-nil fields of p to cur.
func mergeReactivation(cur model.ReactivationConfig, p ReactivationPatch) (model.ReactivationConfig, error) {
	if p.Enabled != nil {
		cur.Enabled = *p.Enabled
	}
	if p.Mode != nil {
		cur.Mode = model.ReactivationMode(strings.ToLower(strings.TrimSpace(*p.Mode)))
	}
	if p.Interval != nil {
		d, err := time.ParseDuration(strings.TrimSpace(*p.Interval))
		if err != nil {
			return model.ReactivationConfig{}, errors.New("interval must be a duration such as 10m")
		}
		cur.Interval = d
	}
	if p.CronSpec != nil {
		cur.CronSpec = strings.TrimSpace(*p.CronSpec)
	}
	if p.Timezone != nil {
		cur.Timezone = strings.TrimSpace(*p.Timezone)
	}
	return cur, nil
}

// ListModels proxies the upstream model catalogue.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.ListModels(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, application.ErrNoActiveKeys):
			writeError(w, http.StatusServiceUnavailable, "no active keys")
		case errors.Is(err, application.ErrUpstream):
			h.logger.Warn("model catalogue unavailable", "error", err)
			writeError(w, http.StatusBadGateway, "upstream request failed")
		default:
			h.logger.Error("failed to list models", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	resp := ModelListResponse{Object: "list", Data: make([]ModelResponse, 0, len(models))}
	for _, m := range models {
		resp.Data = append(resp.Data, ModelResponse{ID: m.ID, Object: "model", OwnedBy: m.OwnedBy})
	}

	writeJSON(w, http.StatusOK, resp)
}
