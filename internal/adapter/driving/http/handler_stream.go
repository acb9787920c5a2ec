package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/keypanel/internal/application"
	"github.com/ericfisherdev/keypanel/internal/domain/model"
)

// StreamTest runs a health test described by query parameters and streams
// the results as server-sent events. Browsers reach it through EventSource.
func (h *Handler) StreamTest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := model.TestRequest{
		Source: model.TestSource(strings.ToLower(q.Get("source"))),
		Model:  q.Get("model"),
	}
	if raw := q.Get("keys"); raw != "" {
		req.Keys = strings.Split(raw, ",")
	}

	h.streamTest(w, r, req)
}

// PostTest runs a health test described by a JSON body. Large custom key
// lists do not fit in a query string.
func (h *Handler) PostTest(w http.ResponseWriter, r *http.Request) {
	var body TestRequestBody
	if !h.decode(w, r, &body) {
		return
	}

	h.streamTest(w, r, model.TestRequest{
		Source: model.TestSource(strings.ToLower(body.Source)),
		Model:  body.Model,
		Keys:   body.Keys,
	})
}

func (h *Handler) streamTest(w http.ResponseWriter, r *http.Request, req model.TestRequest) {
	// The run lives as long as the client stays connected and is cancelled
	// as soon as this handler returns.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.tester.Run(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, application.ErrInvalidTestRequest), errors.Is(err, application.ErrNoKeysToTest):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("failed to start test run", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("failed to clear write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for ev := range events {
		if err := writeEvent(w, toEventPayload(ev)); err != nil {
			h.logger.Info("test stream closed by client", "error", err)
			return
		}
		if err := rc.Flush(); err != nil {
			h.logger.Info("test stream closed by client", "error", err)
			return
		}
	}
}

// writeEvent frames v as a single SSE data event.
func writeEvent(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
