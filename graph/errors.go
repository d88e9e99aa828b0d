package graph

import "errors"

// ErrMaxStepsExceeded indicates the run reached the MaxSteps limit without
// hitting a terminal route. This bounds recovery loops and prevents runaway
// executions.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// EngineError is a structured error from engine operations.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
