package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotsetgreg/dotsession/pkg/session"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "state", "sessions.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "state", "sessions.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	sess := session.New("proj-1", "main")
	sess.AddTurn("hello", "world")
	sess.AddTurn("how are you", "fine")
	sess.Checkpoint()
	sess.ApplyEvidence(session.EvidenceDelta{ToolsExecuted: 2, ToolsSucceeded: 1})

	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s2.Close()

	loaded, err := s2.LoadSession(ctx, sess.ID())
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if !loaded.EquivalentTo(sess) {
		t.Fatalf("loaded session not equivalent: %s vs %s", loaded.ContentHash(), sess.ContentHash())
	}
	if loaded.TurnCount() != sess.TurnCount() {
		t.Fatalf("turn count mismatch: %d vs %d", loaded.TurnCount(), sess.TurnCount())
	}
	if loaded.Evidence() != sess.Evidence() {
		t.Fatalf("evidence mismatch: %+v vs %+v", loaded.Evidence(), sess.Evidence())
	}
	if len(loaded.Checkpoints()) != 1 || loaded.Checkpoints()[0].TurnCount != 2 {
		t.Fatalf("unexpected checkpoints: %+v", loaded.Checkpoints())
	}
}

func TestSQLiteStore_SaveReplacesPriorState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := session.New("", "main")
	sess.AddTurn("a", "b")
	sess.AddTurn("c", "d")
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	sess.Rewind(1)
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("resave: %v", err)
	}

	loaded, err := s.LoadSession(ctx, sess.ID())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.TurnCount() != 1 {
		t.Fatalf("expected rewound state to persist, got %d turns", loaded.TurnCount())
	}
}

func TestSQLiteStore_SaveSnapshotDetachedFromLiveSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := session.New("proj-1", "main")
	sess.AddTurn("captured", "yes")
	snap := sess.Snapshot()

	// The snapshot is handed to another goroutine while the owner keeps
	// appending, mirroring the repl's autosave handoff.
	saved := make(chan error, 1)
	go func() { saved <- s.SaveSnapshot(ctx, snap) }()
	for i := 0; i < 50; i++ {
		sess.AddTurn("later", "turn")
	}
	if err := <-saved; err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	loaded, err := s.LoadSession(ctx, sess.ID())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.TurnCount() != 1 {
		t.Fatalf("expected the captured state (1 turn), got %d", loaded.TurnCount())
	}
	if loaded.ContentHash() != snap.ContentHash() {
		t.Fatalf("loaded hash %s does not match snapshot hash %s", loaded.ContentHash(), snap.ContentHash())
	}
}

func TestSQLiteStore_SaveSnapshotRejectsMissingID(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveSnapshot(context.Background(), session.Snapshot{Evidence: session.NewEvidence()}); err == nil {
		t.Fatal("expected an error for a snapshot without an id")
	}
}

func TestSQLiteStore_LoadMissingSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadSession(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ListSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := session.New("proj-a", "main")
	a.AddTurn("q", "r")
	b := session.New("proj-b", "main")
	c := session.New("proj-a", "side")
	for _, sess := range []*session.Session{a, b, c} {
		if err := s.SaveSession(ctx, sess); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	all, err := s.ListSessions(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}

	scoped, err := s.ListSessions(ctx, ListFilter{ProjectID: "proj-a"})
	if err != nil {
		t.Fatalf("list scoped: %v", err)
	}
	if len(scoped) != 2 {
		t.Fatalf("expected 2 proj-a sessions, got %d", len(scoped))
	}
	for _, sum := range scoped {
		if sum.ProjectID != "proj-a" {
			t.Fatalf("filter leak: %+v", sum)
		}
	}

	limited, err := s.ListSessions(ctx, ListFilter{Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 session with limit, got %d", len(limited))
	}
}

func TestSQLiteStore_CrystalRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := session.New("", "")
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save session: %v", err)
	}

	if _, err := s.LoadCrystal(ctx, sess.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	crystal := Crystal{
		SessionID:    sess.ID(),
		Title:        "Auth refactor session",
		Summary:      "Moved token validation into middleware.",
		KeyDecisions: []string{"keep legacy endpoint", "rotate signing key"},
		Artifacts:    []string{"internal/auth/middleware.go"},
	}
	if err := s.SaveCrystal(ctx, crystal); err != nil {
		t.Fatalf("save crystal: %v", err)
	}

	loaded, err := s.LoadCrystal(ctx, sess.ID())
	if err != nil {
		t.Fatalf("load crystal: %v", err)
	}
	if loaded.Title != crystal.Title || loaded.Summary != crystal.Summary {
		t.Fatalf("crystal fields mismatch: %+v", loaded)
	}
	if len(loaded.KeyDecisions) != 2 || loaded.KeyDecisions[1] != "rotate signing key" {
		t.Fatalf("key decisions mismatch: %+v", loaded.KeyDecisions)
	}
	if len(loaded.Artifacts) != 1 {
		t.Fatalf("artifacts mismatch: %+v", loaded.Artifacts)
	}

	crystal.Summary = "Updated summary."
	if err := s.SaveCrystal(ctx, crystal); err != nil {
		t.Fatalf("resave crystal: %v", err)
	}
	loaded, err = s.LoadCrystal(ctx, sess.ID())
	if err != nil {
		t.Fatalf("reload crystal: %v", err)
	}
	if loaded.Summary != "Updated summary." {
		t.Fatalf("upsert did not replace summary: %q", loaded.Summary)
	}
}

func TestSQLiteStore_SweepSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := session.New("", "")
	sess.AddTurn("old", "session")
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveCrystal(ctx, Crystal{SessionID: sess.ID(), Title: "t", Summary: "s"}); err != nil {
		t.Fatalf("save crystal: %v", err)
	}

	removed, err := s.SweepSessions(ctx, time.Now().UnixMilli()+1)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 swept session, got %d", removed)
	}
	if _, err := s.LoadSession(ctx, sess.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session gone after sweep, got %v", err)
	}
	if _, err := s.LoadCrystal(ctx, sess.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected crystal gone after sweep, got %v", err)
	}
}
