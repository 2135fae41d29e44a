// Package session implements a versioned, budget-aware conversation state
// container: an append-only turn log with named checkpoints, fork/merge
// branching, a Beta-Bernoulli evidence tracker, and a token-budgeted working
// context with priority-based eviction.
//
// A Session is a single-owner object. All mutation is synchronous through
// its own methods, and forked handles share no mutable state.
package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultBranch is the branch name assigned when none is requested.
const DefaultBranch = "main"

// State is the session lifecycle tag.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// Checkpoint records the turn log length at the moment it was taken. The
// ledger is append-only and purely informational; Rewind does not consult it.
type Checkpoint struct {
	ID        string `json:"id"`
	TurnCount int    `json:"turn_count"`
}

// MergeStrategy selects how two branches' turn logs are recombined.
type MergeStrategy string

// MergeSequential concatenates self's turns followed by other's turns with
// contiguous renumbering. It is deliberately not ancestor-aware: a shared
// forked prefix appears twice in the merged log.
const MergeSequential MergeStrategy = "sequential"

// Session is the aggregate root. Fields are unexported so the turn-count
// and evidence invariants can only be moved through its methods.
type Session struct {
	id          string
	projectID   string
	branchName  string
	state       State
	turns       []Turn
	checkpoints []Checkpoint
	evidence    Evidence
}

// New creates a session with a fresh id, an empty turn log, an empty
// checkpoint ledger, and evidence at the uniform prior.
func New(projectID, branchName string) *Session {
	if strings.TrimSpace(branchName) == "" {
		branchName = DefaultBranch
	}
	return &Session{
		id:         uuid.NewString(),
		projectID:  projectID,
		branchName: branchName,
		state:      StateIdle,
		evidence:   NewEvidence(),
	}
}

func (s *Session) ID() string         { return s.id }
func (s *Session) ProjectID() string  { return s.projectID }
func (s *Session) BranchName() string { return s.branchName }
func (s *Session) State() State       { return s.state }

// TurnCount equals the turn log length at all times.
func (s *Session) TurnCount() int { return len(s.turns) }

// Turns returns a copy of the turn log in order.
func (s *Session) Turns() []Turn { return cloneTurns(s.turns) }

// Checkpoints returns a copy of the checkpoint ledger in creation order.
func (s *Session) Checkpoints() []Checkpoint {
	if len(s.checkpoints) == 0 {
		return nil
	}
	out := make([]Checkpoint, len(s.checkpoints))
	copy(out, s.checkpoints)
	return out
}

// Evidence returns the current tracker state by value.
func (s *Session) Evidence() Evidence { return s.evidence }

// AddTurn appends one exchange. The turn number is the log position at
// append time; the first turn moves the session out of idle.
func (s *Session) AddTurn(userMessage, assistantResponse string) {
	s.turns = append(s.turns, Turn{
		TurnNumber:        len(s.turns),
		UserMessage:       userMessage,
		AssistantResponse: assistantResponse,
	})
	s.state = StateActive
}

// ApplyEvidence folds one turn's tool outcome into the tracker.
func (s *Session) ApplyEvidence(delta EvidenceDelta) {
	s.evidence.Apply(delta)
}

// Checkpoint records the current turn count under a fresh id and returns
// the id. Checkpoints are never mutated or removed.
func (s *Session) Checkpoint() string {
	cp := Checkpoint{ID: uuid.NewString(), TurnCount: len(s.turns)}
	s.checkpoints = append(s.checkpoints, cp)
	return cp.ID
}

// Rewind truncates the live turn log by steps, clamped at empty. It is a
// direct truncation independent of the checkpoint ledger; non-positive
// steps are a no-op.
func (s *Session) Rewind(steps int) {
	if steps <= 0 {
		return
	}
	if steps >= len(s.turns) {
		s.turns = nil
		return
	}
	s.turns = s.turns[:len(s.turns)-steps]
}

// Fork returns (self, branch). Self keeps its id and is unchanged. The
// branch gets a new id, the requested branch name, and full copies of the
// turn log, checkpoint ledger, and evidence state; afterwards the two
// handles evolve independently.
func (s *Session) Fork(branchName string) (*Session, *Session) {
	if strings.TrimSpace(branchName) == "" {
		branchName = s.branchName
	}
	branch := &Session{
		id:          uuid.NewString(),
		projectID:   s.projectID,
		branchName:  branchName,
		state:       s.state,
		turns:       cloneTurns(s.turns),
		checkpoints: s.Checkpoints(),
		evidence:    s.evidence,
	}
	return s, branch
}

// Merge combines this session's turn log with other's under the given
// strategy and returns the result as a new session keeping self's identity,
// checkpoints, and evidence. Only MergeSequential is implemented; anything
// else is rejected at the boundary.
func (s *Session) Merge(other *Session, strategy MergeStrategy) (*Session, error) {
	if strategy != MergeSequential {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMergeStrategy, strategy)
	}
	if other == nil {
		return nil, fmt.Errorf("merge: other session is nil")
	}
	merged := &Session{
		id:          s.id,
		projectID:   s.projectID,
		branchName:  s.branchName,
		state:       s.state,
		checkpoints: s.Checkpoints(),
		evidence:    s.evidence,
	}
	merged.turns = make([]Turn, 0, len(s.turns)+len(other.turns))
	for _, t := range s.turns {
		t.TurnNumber = len(merged.turns)
		merged.turns = append(merged.turns, t)
	}
	for _, t := range other.turns {
		t.TurnNumber = len(merged.turns)
		merged.turns = append(merged.turns, t)
	}
	return merged, nil
}

// Context builds a working context over the full turn log with every turn
// carrying the default Droppable tag. Callers pin turns via SetTag before
// compressing.
func (s *Session) Context(budget int) *WorkingContext {
	w := NewWorkingContext(budget)
	for _, t := range s.turns {
		w.AppendTurn(t)
	}
	return w
}
