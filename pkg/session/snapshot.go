package session

import (
	"fmt"
	"strings"
)

// Snapshot is the total field-level serialization of a session. The format
// is structural, not byte-level: persistence and transport layers may encode
// it however they like as long as the fields round-trip.
type Snapshot struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id,omitempty"`
	BranchName  string       `json:"branch_name"`
	State       State        `json:"state"`
	Turns       []Turn       `json:"turns"`
	Checkpoints []Checkpoint `json:"checkpoints"`
	Evidence    Evidence     `json:"evidence"`
}

// Snapshot captures the full session state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:          s.id,
		ProjectID:   s.projectID,
		BranchName:  s.branchName,
		State:       s.state,
		Turns:       s.Turns(),
		Checkpoints: s.Checkpoints(),
		Evidence:    s.evidence,
	}
}

// FromSnapshot reconstructs a session, validating structure first. A record
// that fails validation is surfaced as ErrCorruptedState immediately; no
// field is ever repaired in place.
func FromSnapshot(snap Snapshot) (*Session, error) {
	if err := validateSnapshot(snap); err != nil {
		return nil, err
	}
	branch := snap.BranchName
	if strings.TrimSpace(branch) == "" {
		branch = DefaultBranch
	}
	state := snap.State
	if state == "" {
		state = StateIdle
	}
	return &Session{
		id:          snap.ID,
		projectID:   snap.ProjectID,
		branchName:  branch,
		state:       state,
		turns:       cloneTurns(snap.Turns),
		checkpoints: append([]Checkpoint(nil), snap.Checkpoints...),
		evidence:    snap.Evidence,
	}, nil
}

func validateSnapshot(snap Snapshot) error {
	if strings.TrimSpace(snap.ID) == "" {
		return fmt.Errorf("%w: missing session id", ErrCorruptedState)
	}
	ev := snap.Evidence
	if ev.Alpha < 1 || ev.Beta < 1 {
		return fmt.Errorf("%w: evidence prior below uniform (alpha=%d beta=%d)", ErrCorruptedState, ev.Alpha, ev.Beta)
	}
	if ev.ToolsSucceeded < 0 || ev.ToolsFailed < 0 {
		return fmt.Errorf("%w: negative evidence counters", ErrCorruptedState)
	}
	if ev.Alpha != 1+ev.ToolsSucceeded || ev.Beta != 1+ev.ToolsFailed {
		return fmt.Errorf("%w: evidence counters out of step with posterior", ErrCorruptedState)
	}
	for i, t := range snap.Turns {
		if t.TurnNumber != i {
			return fmt.Errorf("%w: turn %d recorded as %d", ErrCorruptedState, i, t.TurnNumber)
		}
	}
	for _, cp := range snap.Checkpoints {
		if strings.TrimSpace(cp.ID) == "" {
			return fmt.Errorf("%w: checkpoint without id", ErrCorruptedState)
		}
		if cp.TurnCount < 0 {
			return fmt.Errorf("%w: checkpoint %s has negative turn count", ErrCorruptedState, cp.ID)
		}
	}
	return nil
}
