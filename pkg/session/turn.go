package session

// Turn is one user/assistant exchange at a fixed position in the log.
// Immutable once appended; TurnNumber is the zero-based log position.
type Turn struct {
	TurnNumber        int    `json:"turn_number"`
	UserMessage       string `json:"user_message"`
	AssistantResponse string `json:"assistant_response"`
}

func cloneTurns(turns []Turn) []Turn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
