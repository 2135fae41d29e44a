package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// turnContent is the hash input shape: ordered message text only. Identity,
// branch, checkpoints, and evidence are deliberately excluded so two
// sessions with the same dialogue hash identically regardless of where or
// when they were created.
type turnContent struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// ContentHash returns the sha256 hex digest of the RFC 8785 canonical JSON
// of the ordered turn content.
func (s *Session) ContentHash() string {
	return hashTurns(s.turns)
}

// ContentHash on a snapshot hashes the captured turn log, so a detached
// snapshot hashes identically to the session it was taken from.
func (snap Snapshot) ContentHash() string {
	return hashTurns(snap.Turns)
}

func hashTurns(turns []Turn) string {
	content := make([]turnContent, 0, len(turns))
	for _, t := range turns {
		content = append(content, turnContent{User: t.UserMessage, Assistant: t.AssistantResponse})
	}
	raw, err := json.Marshal(content)
	if err != nil {
		// A slice of plain string fields cannot fail to marshal.
		raw = []byte("[]")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		canonical = raw
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// EquivalentTo reports content-hash equality. Reflexive and symmetric;
// transitivity follows from hash equality.
func (s *Session) EquivalentTo(other *Session) bool {
	if other == nil {
		return false
	}
	return s.ContentHash() == other.ContentHash()
}
