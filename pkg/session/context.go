package session

// Linearity is the eviction priority attached to each turn in a working
// context. Required > Preserved > Droppable; only Droppable turns may be
// removed under budget pressure.
type Linearity int

const (
	Droppable Linearity = iota
	Preserved
	Required
)

// Priority returns the numeric ordering used by the eviction policy.
func (l Linearity) Priority() int { return int(l) }

// CanDrop reports whether a turn with this tag may be evicted.
func (l Linearity) CanDrop() bool { return l == Droppable }

func (l Linearity) String() string {
	switch l {
	case Required:
		return "required"
	case Preserved:
		return "preserved"
	default:
		return "droppable"
	}
}

// ContextEntry is one retained turn plus its linearity tag.
type ContextEntry struct {
	Turn Turn
	Tag  Linearity
}

// WorkingContext is a bounded view over a turn log. It holds the retained
// turns in log order together with a token budget; Compress evicts droppable
// turns when the budget is exceeded.
type WorkingContext struct {
	entries []ContextEntry
	budget  int
}

// NewWorkingContext returns an empty context with the given token budget.
func NewWorkingContext(budget int) *WorkingContext {
	return &WorkingContext{budget: budget}
}

// Append adds a turn with an explicit tag.
func (w *WorkingContext) Append(t Turn, tag Linearity) {
	w.entries = append(w.entries, ContextEntry{Turn: t, Tag: tag})
}

// AppendTurn adds a turn with the default tag. Turns default to Droppable:
// anything not explicitly pinned is fair game for eviction.
func (w *WorkingContext) AppendTurn(t Turn) {
	w.Append(t, Droppable)
}

// SetTag retags the entry holding turnNumber. Returns false when no retained
// entry carries that turn number.
func (w *WorkingContext) SetTag(turnNumber int, tag Linearity) bool {
	for i := range w.entries {
		if w.entries[i].Turn.TurnNumber == turnNumber {
			w.entries[i].Tag = tag
			return true
		}
	}
	return false
}

// Len returns the number of retained turns.
func (w *WorkingContext) Len() int { return len(w.entries) }

// Budget returns the token ceiling.
func (w *WorkingContext) Budget() int { return w.budget }

// Entries returns a copy of the retained entries in log order.
func (w *WorkingContext) Entries() []ContextEntry {
	if len(w.entries) == 0 {
		return nil
	}
	out := make([]ContextEntry, len(w.entries))
	copy(out, w.entries)
	return out
}

// TokenCount estimates the tokens consumed by the retained turns. Zero for
// an empty context; strictly increases when a non-empty turn is appended.
func (w *WorkingContext) TokenCount() int {
	total := 0
	for _, e := range w.entries {
		total += estimateTurnTokens(e.Turn)
	}
	return total
}

// Usage is TokenCount divided by the budget. Zero when the budget is unset.
func (w *WorkingContext) Usage() float64 {
	if w.budget <= 0 {
		return 0
	}
	return float64(w.TokenCount()) / float64(w.budget)
}

// OverBudget reports whether the retained turns exceed the budget.
func (w *WorkingContext) OverBudget() bool {
	return w.TokenCount() > w.budget
}

// Compress returns a context that satisfies the budget if droppable material
// allows it. Droppable turns are evicted oldest first; Required and
// Preserved turns are never removed. When evicting every droppable turn
// still leaves the context over budget, the result is returned over budget
// with OverBudget reporting true. Compress is idempotent: compressing an
// already-compressed context changes nothing.
func (w *WorkingContext) Compress() *WorkingContext {
	out := &WorkingContext{
		budget:  w.budget,
		entries: append([]ContextEntry(nil), w.entries...),
	}
	for out.TokenCount() > out.budget {
		dropped := false
		for i, e := range out.entries {
			if e.Tag.CanDrop() {
				out.entries = append(out.entries[:i], out.entries[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			break
		}
	}
	return out
}

// estimateTurnTokens mirrors the rune-count heuristic used for event
// transcripts: roughly 2.5 runes per token, with a floor of one token for
// any non-empty turn so appends are strictly monotonic.
func estimateTurnTokens(t Turn) int {
	chars := len([]rune(t.UserMessage)) + len([]rune(t.AssistantResponse))
	if chars == 0 {
		return 0
	}
	tokens := chars * 2 / 5
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
