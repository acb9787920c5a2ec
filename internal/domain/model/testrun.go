package model

import "time"

// TestSource selects which keys a health-test run probes.
type TestSource string

const (
	TestSourceSystem TestSource = "system" // Active keys in the pool.
	TestSourceCustom TestSource = "custom" // Caller-supplied values.
)

// ResultStatus is the outcome of probing a single key.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
)

// TestRequest describes a health-test run.
type TestRequest struct {
	Source TestSource
	Model  string
	Keys   []string
}

// TestResult is the outcome of one probe.
type TestResult struct {
	KeyValue string
	Status   ResultStatus
	Error    string
	Duration time.Duration
}

// OK reports whether the probe succeeded.
func (r TestResult) OK() bool {
	return r.Status == ResultSuccess
}

// TestCompletion terminates the event stream of a run that was not cancelled.
type TestCompletion struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Message   string
}

// TestEvent carries exactly one of Result or Completion.
type TestEvent struct {
	Result     *TestResult
	Completion *TestCompletion
}
