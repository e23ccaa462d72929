// Package research implements the multi-phase deep-research protocol: batch
// preparation, role and goal discovery, plan construction, paged step
// execution with mid-stream retrieval, and final report synthesis. The
// orchestrator drives the phases strictly serially over one session.
package research

import (
	"context"
	"errors"
)

var (
	// ErrEmptyGoals means Phase 1 produced no goals; the input is unusable.
	ErrEmptyGoals = errors.New("phase 1 produced no goals")

	// ErrCancelled means the operator aborted the run; the session is
	// persisted with status cancelled.
	ErrCancelled = errors.New("research cancelled")

	// ErrInvalidPlan means the plan violated a structural invariant
	// (non-dense step ids, misplaced synthesis step).
	ErrInvalidPlan = errors.New("invalid research plan")

	// ErrLLMTransport means the LLM client failed persistently; the session
	// is marked failed and the run exits.
	ErrLLMTransport = errors.New("llm transport failure")
)

// transportError wraps a transient LLM failure so window retry logic can
// distinguish it from parse failures, which are never retried.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransport(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

// cancelled reports whether err or ctx indicates operator cancellation.
func cancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)
}
