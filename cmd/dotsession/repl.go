package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/dotsession/pkg/bus"
	"github.com/dotsetgreg/dotsession/pkg/config"
	"github.com/dotsetgreg/dotsession/pkg/logger"
	"github.com/dotsetgreg/dotsession/pkg/session"
	"github.com/dotsetgreg/dotsession/pkg/store"
)

func newReplCommand(configPath *string) *cobra.Command {
	var projectID string
	var branchName string
	var resumeID string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Drive a session interactively",
		Long: strings.TrimSpace(`Record turns into a session interactively. Each turn is a user line
followed by an assistant line. Slash commands operate on the session:

  /checkpoint           record the current turn count
  /rewind N             truncate the last N turns
  /evidence EXEC SUCC   apply a tool-outcome delta
  /fork BRANCH          fork and switch to the new branch
  /context              show the compressed working context
  /status               show session state
  /save                 persist now
  /quit                 save and exit`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			var sess *session.Session
			if resumeID != "" {
				sess, err = st.LoadSession(cmd.Context(), resumeID)
				if err != nil {
					return err
				}
			} else {
				sess = session.New(projectID, branchName)
			}
			return runRepl(cmd.Context(), cfg, st, sess)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Project id for a new session")
	cmd.Flags().StringVar(&branchName, "branch", session.DefaultBranch, "Branch name for a new session")
	cmd.Flags().StringVar(&resumeID, "resume", "", "Resume a stored session by id")
	return cmd
}

func runRepl(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, sess *session.Session) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s user> ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".dotsession_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	eventBus := bus.NewEventBus()
	defer eventBus.Close()

	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	done := make(chan struct{})
	// The consumer only ever sees detached snapshots carried inside events;
	// the live session stays owned by the readline goroutine.
	go func() {
		defer close(done)
		for {
			ev, ok := eventBus.Consume(consumerCtx)
			if !ok {
				return
			}
			logger.DebugCF("repl", "Session event",
				map[string]interface{}{"kind": string(ev.Kind), "session": ev.SessionID, "turns": ev.TurnCount, "detail": ev.Detail})
			if ev.Snapshot == nil {
				continue
			}
			if err := st.SaveSnapshot(context.Background(), *ev.Snapshot); err != nil {
				logger.WarnCF("repl", "Autosave failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}()

	fmt.Printf("%s session %s (branch %s), /quit to save and exit\n", appName, sess.ID(), sess.BranchName())

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "exit" || input == "quit" {
			break
		}

		if strings.HasPrefix(input, "/") {
			if quit := handleCommand(input, cfg, &sess, eventBus, st); quit {
				break
			}
			continue
		}

		rl.SetPrompt(fmt.Sprintf("%s assistant> ", appName))
		assistant, err := rl.Readline()
		rl.SetPrompt(fmt.Sprintf("%s user> ", appName))
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		sess.AddTurn(input, strings.TrimSpace(assistant))
		eventBus.Publish(bus.SessionEvent{
			Kind:      bus.EventTurnAppended,
			SessionID: sess.ID(),
			Branch:    sess.BranchName(),
			TurnCount: sess.TurnCount(),
			Snapshot:  snapshotOf(sess),
		})
	}

	cancelConsumer()
	<-done

	if err := st.SaveSession(context.Background(), sess); err != nil {
		return fmt.Errorf("save session on exit: %w", err)
	}
	fmt.Printf("Saved session %s (%d turns)\n", sess.ID(), sess.TurnCount())
	return nil
}

// snapshotOf detaches the session state for handoff to the bus consumer.
func snapshotOf(s *session.Session) *session.Snapshot {
	snap := s.Snapshot()
	return &snap
}

// handleCommand mutates the live session in place; it returns true when the
// repl should exit.
func handleCommand(input string, cfg *config.Config, sess **session.Session, eventBus *bus.EventBus, st *store.SQLiteStore) bool {
	s := *sess
	fields := strings.Fields(input)
	switch fields[0] {
	case "/checkpoint":
		id := s.Checkpoint()
		eventBus.Publish(bus.SessionEvent{Kind: bus.EventCheckpoint, SessionID: s.ID(), TurnCount: s.TurnCount(), Detail: id, Snapshot: snapshotOf(s)})
		fmt.Printf("Checkpoint %s at %d turns\n", id, s.TurnCount())

	case "/rewind":
		if len(fields) < 2 {
			fmt.Println("Usage: /rewind N")
			return false
		}
		steps, err := strconv.Atoi(fields[1])
		if err != nil || steps < 0 {
			fmt.Println("Usage: /rewind N (non-negative integer)")
			return false
		}
		s.Rewind(steps)
		eventBus.Publish(bus.SessionEvent{Kind: bus.EventRewind, SessionID: s.ID(), TurnCount: s.TurnCount(), Snapshot: snapshotOf(s)})
		fmt.Printf("Rewound to %d turns\n", s.TurnCount())

	case "/evidence":
		if len(fields) < 3 {
			fmt.Println("Usage: /evidence EXECUTED SUCCEEDED")
			return false
		}
		executed, err1 := strconv.Atoi(fields[1])
		succeeded, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil || executed < 0 || succeeded < 0 || succeeded > executed {
			fmt.Println("Usage: /evidence EXECUTED SUCCEEDED with 0 <= SUCCEEDED <= EXECUTED")
			return false
		}
		s.ApplyEvidence(session.EvidenceDelta{ToolsExecuted: executed, ToolsSucceeded: succeeded})
		ev := s.Evidence()
		fmt.Printf("Confidence %.3f (alpha=%d beta=%d)", ev.Confidence(), ev.Alpha, ev.Beta)
		if ev.ShouldStop() {
			fmt.Print(", should stop")
		}
		fmt.Println()

	case "/fork":
		if len(fields) < 2 {
			fmt.Println("Usage: /fork BRANCH")
			return false
		}
		_, branch := s.Fork(fields[1])
		if err := st.SaveSession(context.Background(), s); err != nil {
			fmt.Printf("Error saving trunk before switch: %v\n", err)
			return false
		}
		*sess = branch
		eventBus.Publish(bus.SessionEvent{Kind: bus.EventFork, SessionID: branch.ID(), Branch: branch.BranchName(), TurnCount: branch.TurnCount(), Snapshot: snapshotOf(branch)})
		fmt.Printf("Now on %s (branch %s)\n", branch.ID(), branch.BranchName())

	case "/context":
		w := s.Context(cfg.Context.MaxTokens).Compress()
		eventBus.Publish(bus.SessionEvent{Kind: bus.EventCompress, SessionID: s.ID(), TurnCount: w.Len()})
		fmt.Printf("Working context: %d/%d turns retained, %d tokens (%.0f%% of budget)\n",
			w.Len(), s.TurnCount(), w.TokenCount(), w.Usage()*100)
		if w.OverBudget() {
			fmt.Println("Warning: context is over budget with no droppable turns left")
		}
		for _, e := range w.Entries() {
			fmt.Printf("  [%d %s] %s\n", e.Turn.TurnNumber, e.Tag, e.Turn.UserMessage)
		}

	case "/status":
		printSession(s)

	case "/save":
		if err := st.SaveSession(context.Background(), s); err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		fmt.Println("Saved.")

	default:
		fmt.Printf("Unknown command %s\n", fields[0])
	}
	return false
}
