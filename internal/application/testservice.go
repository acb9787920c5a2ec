package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
	"github.com/ericfisherdev/keypanel/internal/domain/port/driven"
)

// Defaults for health-test runs.
const (
	DefaultProbeConcurrency = 10
	DefaultProbeTimeout     = 10 * time.Second
)

// completionMessage is sent with the completion marker of every finished run.
const completionMessage = "All keys tested"

// TestService runs health tests: it probes keys against a target model with
// bounded concurrency and streams the results as they complete. It never
// changes key status.
type TestService struct {
	keys        driven.KeyStore
	prober      driven.Prober
	concurrency int
	timeout     time.Duration
}

// NewTestService creates a TestService. Non-positive concurrency or timeout
// fall back to the defaults.
func NewTestService(keys driven.KeyStore, prober driven.Prober, concurrency int, timeout time.Duration) *TestService {
	if concurrency <= 0 {
		concurrency = DefaultProbeConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &TestService{
		keys:        keys,
		prober:      prober,
		concurrency: concurrency,
		timeout:     timeout,
	}
}

// Concurrency returns the maximum number of probes in flight.
func (s *TestService) Concurrency() int {
	return s.concurrency
}

// ProbeKey probes a single key and converts the outcome into a TestResult.
// The probe is bounded by the per-probe timeout.
func (s *TestService) ProbeKey(ctx context.Context, value, modelID string) model.TestResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.prober.Probe(ctx, value, modelID)
	result := model.TestResult{
		KeyValue: value,
		Status:   model.ResultSuccess,
		Duration: time.Since(start),
	}
	if err != nil {
		result.Status = model.ResultFailure
		result.Error = err.Error()
	}
	return result
}

// Run validates req, resolves the keys to probe and starts the run. The
// returned channel yields one result per key in completion order followed by
// a single completion event, then closes. If ctx is cancelled, dispatch stops,
// in-flight probes are cancelled, no further events are sent and the channel
// closes without a completion event.
func (s *TestService) Run(ctx context.Context, req model.TestRequest) (<-chan model.TestEvent, error) {
	values, err := s.resolveKeys(ctx, req)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	events := make(chan model.TestEvent)

	slog.Info("test run started",
		"run_id", runID,
		"source", req.Source,
		"model", req.Model,
		"keys", len(values),
		"concurrency", s.concurrency,
	)

	go s.run(ctx, runID, req.Model, values, events)

	return events, nil
}

func (s *TestService) run(ctx context.Context, runID, modelID string, values []string, events chan<- model.TestEvent) {
	defer close(events)
	start := time.Now()

	results := make(chan model.TestResult)

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	go func() {
		defer close(results)
		for _, v := range values {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				r := s.ProbeKey(ctx, v, modelID)
				select {
				case results <- r:
				case <-ctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	completion := model.TestCompletion{RunID: runID, Total: len(values), Message: completionMessage}
	delivered := 0
	for r := range results {
		if !send(ctx, events, model.TestEvent{Result: &r}) {
			continue
		}
		delivered++
		if r.OK() {
			completion.Succeeded++
		} else {
			completion.Failed++
		}
	}

	if ctx.Err() != nil {
		slog.Info("test run cancelled",
			"run_id", runID,
			"delivered", delivered,
			"of", len(values),
		)
		return
	}

	send(ctx, events, model.TestEvent{Completion: &completion})

	slog.Info("test run complete",
		"run_id", runID,
		"total", completion.Total,
		"succeeded", completion.Succeeded,
		"failed", completion.Failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// send delivers ev unless ctx is already done. A cancelled run must not emit
// further events even when the consumer is still reading.
func send(ctx context.Context, events chan<- model.TestEvent, ev model.TestEvent) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *TestService) resolveKeys(ctx context.Context, req model.TestRequest) ([]string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidTestRequest)
	}

	switch req.Source {
	case model.TestSourceSystem:
		active, err := s.keys.ListByStatus(ctx, model.KeyStatusActive)
		if err != nil {
			return nil, fmt.Errorf("snapshot active keys: %w", err)
		}
		if len(active) == 0 {
			return nil, ErrNoKeysToTest
		}
		values := make([]string, 0, len(active))
		for _, k := range active {
			values = append(values, k.Value)
		}
		return values, nil

	case model.TestSourceCustom:
		values := dedupe(req.Keys)
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: custom source needs at least one key", ErrInvalidTestRequest)
		}
		return values, nil

	default:
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidTestRequest, req.Source)
	}
}

// dedupe trims values, drops empties and keeps the first occurrence of each.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
