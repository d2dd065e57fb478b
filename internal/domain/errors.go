package domain

import "fmt"

// FormatError reports a message field that could not be parsed.
type FormatError struct {
	Field string
	Value string
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

type Stage string

const (
	StageFetch          Stage = "fetch"
	StageExtraction     Stage = "extraction"
	StageClassification Stage = "classification"
	StageAggregation    Stage = "aggregation"
	StageRendering      Stage = "rendering"
	StagePersist        Stage = "persist"
	StageDeliver        Stage = "deliver"
)

// StageError identifies which pipeline stage failed and, when the failure
// is tied to one message, which message, so it can be reprocessed alone.
type StageError struct {
	Stage     Stage
	MessageTS string
	Err       error
}

func (e *StageError) Error() string {
	if e.MessageTS != "" {
		return fmt.Sprintf("%s failed on message %s: %v", e.Stage, e.MessageTS, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
