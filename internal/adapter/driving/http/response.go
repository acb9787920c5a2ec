package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// KeyRequest is the body of single-key mutations.
type KeyRequest struct {
	Value  string `json:"value"`
	Reason string `json:"reason,omitempty"`
}

// BatchRequest is the body of batch add and remove.
type BatchRequest struct {
	Keys []string `json:"keys"`
}

// TestRequestBody is the JSON form of a test run request.
type TestRequestBody struct {
	Source string   `json:"source"`
	Model  string   `json:"model"`
	Keys   []string `json:"keys"`
}

// KeyResponse is the JSON representation of a pooled key.
type KeyResponse struct {
	Value             string  `json:"value"`
	Status            string  `json:"status"`
	DisabledAt        *string `json:"disabled_at,omitempty"`
	LastFailureReason string  `json:"last_failure_reason,omitempty"`
	Source            string  `json:"source"`
	AddedAt           string  `json:"added_at"`
}

func toKeyResponse(k model.Key) KeyResponse {
	resp := KeyResponse{
		Value:             k.Value,
		Status:            string(k.Status),
		LastFailureReason: k.LastFailureReason,
		Source:            string(k.Source),
		AddedAt:           formatTime(k.AddedAt),
	}
	if !k.DisabledAt.IsZero() {
		at := formatTime(k.DisabledAt)
		resp.DisabledAt = &at
	}
	return resp
}

// BatchItemErrorResponse reports one failed batch item.
type BatchItemErrorResponse struct {
	Value string `json:"value"`
	Error string `json:"error"`
}

// BatchResponse is the JSON representation of a batch result. AddedCount is
// set for batch add and RemovedCount for batch remove.
type BatchResponse struct {
	Message      string                   `json:"message"`
	AddedCount   *int                     `json:"added_count,omitempty"`
	RemovedCount *int                     `json:"removed_count,omitempty"`
	FailedCount  int                      `json:"failed_count"`
	Errors       []BatchItemErrorResponse `json:"errors"`
}

func toBatchResponse(r model.BatchResult) BatchResponse {
	resp := BatchResponse{
		Message:     r.Message,
		FailedCount: r.Failed,
		Errors:      make([]BatchItemErrorResponse, 0, len(r.Errors)),
	}
	for _, e := range r.Errors {
		resp.Errors = append(resp.Errors, BatchItemErrorResponse{Value: e.Value, Error: e.Error})
	}
	return resp
}

// TestResultEvent is the SSE payload for one probed key.
type TestResultEvent struct {
	KeyValue   string `json:"key_value"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// TestCompleteEvent is the SSE payload that ends a run.
type TestCompleteEvent struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Message   string `json:"message"`
}

func toEventPayload(ev model.TestEvent) any {
	if ev.Completion != nil {
		c := ev.Completion
		return TestCompleteEvent{
			Type:      "complete",
			RunID:     c.RunID,
			Total:     c.Total,
			Succeeded: c.Succeeded,
			Failed:    c.Failed,
			Message:   c.Message,
		}
	}
	r := ev.Result
	return TestResultEvent{
		KeyValue:   r.KeyValue,
		Status:     string(r.Status),
		Error:      r.Error,
		DurationMS: r.Duration.Milliseconds(),
	}
}

// ReactivationSettings is the JSON form of the reactivation config. Interval
// uses Go duration syntax ("10m").
type ReactivationSettings struct {
	Enabled  bool   `json:"enabled"`
	Mode     string `json:"mode"`
	Interval string `json:"interval"`
	CronSpec string `json:"cron_spec"`
	Timezone string `json:"timezone"`
}

func toReactivationSettings(c model.ReactivationConfig) ReactivationSettings {
	return ReactivationSettings{
		Enabled:  c.Enabled,
		Mode:     string(c.Mode),
		Interval: c.Interval.String(),
		CronSpec: c.CronSpec,
		Timezone: c.Timezone,
	}
}

// ReactivationPatch carries the fields of a settings update; absent fields
// keep their current value.
type ReactivationPatch struct {
	Enabled  *bool   `json:"enabled"`
	Mode     *string `json:"mode"`
	Interval *string `json:"interval"`
	CronSpec *string `json:"cron_spec"`
	Timezone *string `json:"timezone"`
}

// SettingsUpdateRequest is the body of POST /settings.
type SettingsUpdateRequest struct {
	AutoReactivation *ReactivationPatch `json:"auto_reactivation"`
}

// SchedulerStatusResponse is the JSON form of the scheduler status.
type SchedulerStatusResponse struct {
	State        string  `json:"state"`
	NextFireAt   *string `json:"next_fire_at,omitempty"`
	LastTickAt   *string `json:"last_tick_at,omitempty"`
	TicksRun     int     `json:"ticks_run"`
	TicksSkipped int     `json:"ticks_skipped"`
}

func toSchedulerStatus(s model.SchedulerStatus) SchedulerStatusResponse {
	resp := SchedulerStatusResponse{
		State:        string(s.State),
		TicksRun:     s.TicksRun,
		TicksSkipped: s.TicksSkipped,
	}
	if !s.NextFireAt.IsZero() {
		at := formatTime(s.NextFireAt)
		resp.NextFireAt = &at
	}
	if !s.LastTickAt.IsZero() {
		at := formatTime(s.LastTickAt)
		resp.LastTickAt = &at
	}
	return resp
}

// SettingsResponse is the body of GET and POST /settings.
type SettingsResponse struct {
	Message          string                  `json:"message,omitempty"`
	AutoReactivation ReactivationSettings    `json:"auto_reactivation"`
	Scheduler        SchedulerStatusResponse `json:"scheduler"`
	ProbeModel       string                  `json:"probe_model"`
}

// ModelResponse is one entry of the proxied model list.
type ModelResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelListResponse mirrors the OpenAI list envelope.
type ModelListResponse struct {
	Object string          `json:"object"`
	Data   []ModelResponse `json:"data"`
}

// HealthResponse is the JSON representation of the health check.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
