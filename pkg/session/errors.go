package session

import "errors"

var (
	// ErrCorruptedState indicates a serialized session record failed
	// structural validation. Never repaired silently.
	ErrCorruptedState = errors.New("corrupted session state")

	// ErrUnsupportedMergeStrategy indicates a merge was requested with a
	// strategy the engine does not implement.
	ErrUnsupportedMergeStrategy = errors.New("unsupported merge strategy")
)
