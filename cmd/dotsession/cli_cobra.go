package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/dotsession/pkg/config"
	"github.com/dotsetgreg/dotsession/pkg/logger"
	"github.com/dotsetgreg/dotsession/pkg/session"
	"github.com/dotsetgreg/dotsession/pkg/store"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "dotsession.json"
	}
	return filepath.Join(home, ".dotsession", "config.json")
}

func buildRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "dotsession",
		Short: "Versioned, budget-aware conversation session store",
		Long: strings.TrimSpace(`dotsession manages conversation sessions: an append-only turn log with
checkpoints, fork/merge branching, Bayesian turn-outcome evidence, and a
token-budgeted working context.

Use repl to drive a live session, and list/show/fork/merge/sweep to operate
on the persistent store.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to config file")

	root.AddCommand(newReplCommand(&configPath))
	root.AddCommand(newListCommand(&configPath))
	root.AddCommand(newShowCommand(&configPath))
	root.AddCommand(newForkCommand(&configPath))
	root.AddCommand(newMergeCommand(&configPath))
	root.AddCommand(newSweepCommand(&configPath))
	root.AddCommand(newVersionCommand())

	return root
}

func openStore(configPath string) (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)

	st, err := store.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, st, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build metadata",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s %s\n", appName, formatVersion())
		},
	}
}

func newListCommand(configPath *string) *cobra.Command {
	var projectID string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			summaries, err := st.ListSessions(cmd.Context(), store.ListFilter{ProjectID: projectID, Limit: limit})
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}
			for _, s := range summaries {
				project := s.ProjectID
				if project == "" {
					project = "-"
				}
				fmt.Printf("%s  project=%s branch=%s state=%s turns=%d\n",
					s.ID, project, s.BranchName, s.State, s.TurnCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Only sessions for this project")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum sessions to list")
	return cmd
}

func newShowCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's turn log, checkpoints, and evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := st.LoadSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSession(sess)

			crystal, err := st.LoadCrystal(cmd.Context(), sess.ID())
			if err == nil {
				fmt.Printf("\nCrystal: %s\n%s\n", crystal.Title, crystal.Summary)
			}
			return nil
		},
	}
}

func printSession(sess *session.Session) {
	fmt.Printf("Session %s\n", sess.ID())
	fmt.Printf("- Branch: %s\n", sess.BranchName())
	if sess.ProjectID() != "" {
		fmt.Printf("- Project: %s\n", sess.ProjectID())
	}
	fmt.Printf("- State: %s\n", sess.State())
	fmt.Printf("- Turns: %d\n", sess.TurnCount())
	fmt.Printf("- Content hash: %s\n", sess.ContentHash())

	ev := sess.Evidence()
	fmt.Printf("- Confidence: %.3f (alpha=%d beta=%d, %d succeeded / %d failed)\n",
		ev.Confidence(), ev.Alpha, ev.Beta, ev.ToolsSucceeded, ev.ToolsFailed)
	if ev.ShouldStop() {
		fmt.Println("- Should stop: yes")
	}

	for _, cp := range sess.Checkpoints() {
		fmt.Printf("- Checkpoint %s at %d turns\n", cp.ID, cp.TurnCount)
	}
	for _, t := range sess.Turns() {
		fmt.Printf("  [%d] user: %s\n      assistant: %s\n", t.TurnNumber, t.UserMessage, t.AssistantResponse)
	}
}

func newForkCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fork <session-id> <branch-name>",
		Short: "Fork a stored session into a new branch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := st.LoadSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, branch := sess.Fork(args[1])
			if err := st.SaveSession(cmd.Context(), branch); err != nil {
				return err
			}
			logger.InfoCF("cli", "Forked session",
				map[string]interface{}{"from": sess.ID(), "to": branch.ID(), "branch": branch.BranchName()})
			fmt.Printf("Forked %s into %s (branch %q, %d turns)\n",
				sess.ID(), branch.ID(), branch.BranchName(), branch.TurnCount())
			return nil
		},
	}
}

func newMergeCommand(configPath *string) *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "merge <into-id> <from-id>",
		Short: "Merge one stored session's turn log into another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			into, err := st.LoadSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			from, err := st.LoadSession(cmd.Context(), args[1])
			if err != nil {
				return err
			}

			merged, err := into.Merge(from, session.MergeStrategy(strategy))
			if err != nil {
				return err
			}
			if err := st.SaveSession(cmd.Context(), merged); err != nil {
				return err
			}
			fmt.Printf("Merged %s into %s: %d turns\n", from.ID(), merged.ID(), merged.TurnCount())
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", string(session.MergeSequential), "Merge strategy")
	return cmd
}

func newSweepCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete sessions older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			maxAge := time.Duration(cfg.Retention.MaxSessionAgeDays) * 24 * time.Hour
			cutoff := time.Now().Add(-maxAge).UnixMilli()
			removed, err := st.SweepSessions(context.Background(), cutoff)
			if err != nil {
				return err
			}
			logger.InfoCF("cli", "Retention sweep complete",
				map[string]interface{}{"removed": removed, "max_age_days": cfg.Retention.MaxSessionAgeDays})
			fmt.Printf("Removed %d session(s)\n", removed)
			return nil
		},
	}
}
