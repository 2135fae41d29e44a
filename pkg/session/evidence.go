package session

// Evidence is a Beta-Bernoulli posterior over "the dialogue is going well".
// Alpha and Beta start at the uniform prior Beta(1,1) and only grow; the
// posterior after turn n is the prior for turn n+1. ToolsSucceeded and
// ToolsFailed are cumulative reporting counters; Alpha/Beta are the single
// source of truth for confidence (Alpha = 1 + ToolsSucceeded and
// Beta = 1 + ToolsFailed hold at all times).
type Evidence struct {
	Alpha          int `json:"alpha"`
	Beta           int `json:"beta"`
	ToolsSucceeded int `json:"tools_succeeded"`
	ToolsFailed    int `json:"tools_failed"`
}

// EvidenceDelta is one turn's tool outcome, observed upstream. The caller
// guarantees ToolsSucceeded <= ToolsExecuted; the tracker does not re-check.
type EvidenceDelta struct {
	ToolsExecuted    int     `json:"tools_executed"`
	ToolsSucceeded   int     `json:"tools_succeeded"`
	ConfidenceChange float64 `json:"confidence_change"` // caller-side hint, unused by the update
}

// stopThreshold is the posterior-mean confidence above which further turns
// are unlikely to change the verdict.
const stopThreshold = 0.95

// NewEvidence returns a tracker at the uniform prior.
func NewEvidence() Evidence {
	return Evidence{Alpha: 1, Beta: 1}
}

// Apply folds one delta into the posterior. A delta with zero executions
// leaves the posterior unchanged. The update is exact integer arithmetic, so
// identical delta sequences always reproduce identical state.
func (e *Evidence) Apply(delta EvidenceDelta) {
	failures := delta.ToolsExecuted - delta.ToolsSucceeded
	e.Alpha += delta.ToolsSucceeded
	e.Beta += failures
	e.ToolsSucceeded += delta.ToolsSucceeded
	e.ToolsFailed += failures
}

// Confidence is the posterior mean alpha/(alpha+beta). Derived, never stored.
func (e Evidence) Confidence() float64 {
	return float64(e.Alpha) / float64(e.Alpha+e.Beta)
}

// ShouldStop reports whether confidence has strictly exceeded the stop
// threshold. At exactly 0.95 (18 straight successes from the prior) it is
// still false; the 19th success pushes the mean to 20/21 and trips it.
func (e Evidence) ShouldStop() bool {
	return e.Confidence() > stopThreshold
}
