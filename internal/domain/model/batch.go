package model

// BatchItemError explains why one item of a batch failed. Value is masked.
type BatchItemError struct {
	Value string
	Error string
}

// BatchResult summarizes a batch add or remove. Succeeded + Failed always
// equals Processed.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
	Errors    []BatchItemError
	Message   string
}
