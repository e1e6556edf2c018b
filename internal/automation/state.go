// internal/automation/state.go
package automation

import "github.com/ezmig/formpilot/api/schemas"

// The pipeline is strictly linear: each step depends on the page state left
// by the previous one, so the only legal transition is to the next step in
// order. Suspension for a human (waiting) is a per-step state, not a
// transition; the run resumes on the same step's resumption condition.

// NextStep returns the step after current, or ("", false) when current is the
// terminal step or unknown.
func NextStep(current schemas.Step) (schemas.Step, bool) {
	pipeline := schemas.Pipeline()
	for i, step := range pipeline {
		if step == current {
			if i+1 < len(pipeline) {
				return pipeline[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

// CanTransition reports whether moving from one step directly to another is
// legal.
func CanTransition(from, to schemas.Step) bool {
	next, ok := NextStep(from)
	return ok && next == to
}

// stepState tracks one step's live status for progress reporting.
type stepState struct {
	step   schemas.Step
	status schemas.StepStatus
}

// newStepStates seeds every pipeline step as pending.
func newStepStates() []stepState {
	pipeline := schemas.Pipeline()
	states := make([]stepState, len(pipeline))
	for i, step := range pipeline {
		states[i] = stepState{step: step, status: schemas.StatusPending}
	}
	return states
}
