package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rewind/internal/config"
	"rewind/internal/history"
	"rewind/internal/session"
)

// app carries what every command needs once flags are parsed
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	scanner *session.Scanner
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		a          = &app{}
	)

	root := &cobra.Command{
		Use:   "rewind",
		Short: "Browse Claude Code session history and restore checkpointed files",
		Long: `rewind rebuilds the causal history of recorded Claude Code sessions and
restores the files they checkpointed into a disposable sandbox.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			a.cfg = cfg
			a.logger = cfg.NewLogger(cmd.ErrOrStderr())
			a.scanner = session.NewScanner(cfg.ClaudeDir, session.Options{
				Workers:        cfg.ScanWorkers,
				TitleMaxLength: cfg.TitleMaxLength,
				Logger:         a.logger,
			})
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.rewind/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level (debug, info, warn, error)")

	root.AddCommand(
		newProjectsCmd(a),
		newSessionsCmd(a),
		newShowCmd(a),
		newPointsCmd(a),
		newRestoreCmd(a),
		newModesCmd(a),
		newHistoryCmd(a),
		newWatchCmd(a),
	)
	return root
}

// loadSession resolves an id or unique prefix and parses its transcript
func (a *app) loadSession(ctx context.Context, idOrPrefix string) (*session.Session, *history.Tree, history.LinkReport, error) {
	sess, err := a.scanner.Find(ctx, idOrPrefix)
	if err != nil {
		return nil, nil, history.LinkReport{}, err
	}
	tree, report, err := a.scanner.LoadTree(sess)
	if err != nil {
		return nil, nil, history.LinkReport{}, fmt.Errorf("load %s: %w", sess.ID, err)
	}
	if report.Degraded() > 0 {
		a.logger.Warn("history reconstructed with guesses",
			"session", sess.ID,
			"root_promoted", len(report.RootPromoted),
			"cycles_broken", len(report.CyclesBroken))
	}
	return sess, tree, report, nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

const timeLayout = "2006-01-02 15:04:05"
