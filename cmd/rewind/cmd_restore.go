package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rewind/internal/checkpoint"
	"rewind/internal/database"
	"rewind/internal/eventhub"
	"rewind/internal/sandbox"
	"rewind/internal/teleport"
)

func newPointsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "points <session>",
		Short: "List the restore points of a session, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, tree, _, err := a.loadSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			points := teleport.ListRestorePoints(tree, a.cfg.RestorePointLimit)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), points)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "TIME\tEVENT\tFILES\tDESCRIPTION")
			for _, p := range points {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.Timestamp.Local().Format(timeLayout), p.EventID, p.FileCount, p.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

type restoreFlags struct {
	at     string
	mode   string
	shell  bool
	export string
	keep   bool
}

func newRestoreCmd(a *app) *cobra.Command {
	var f restoreFlags
	cmd := &cobra.Command{
		Use:   "restore <session>",
		Short: "Restore a session's checkpointed files into a sandbox",
		Long: `Restore the newest checkpoint of every file a session touched into a fresh
sandbox. The sandbox is removed when the command ends unless --keep is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.restore(cmd.Context(), cmd, args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.at, "at", "", "restore point event id (default latest)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "sandbox mode: local, microvm, docker or ssh")
	cmd.Flags().BoolVar(&f.shell, "shell", false, "open an interactive shell in the sandbox")
	cmd.Flags().StringVar(&f.export, "export", "", "write a .tar.zst bundle of the restored files")
	cmd.Flags().BoolVar(&f.keep, "keep", false, "leave the sandbox in place on exit")
	return cmd
}

func (a *app) restore(ctx context.Context, cmd *cobra.Command, idOrPrefix string, f restoreFlags) (err error) {
	sess, tree, _, err := a.loadSession(ctx, idOrPrefix)
	if err != nil {
		return err
	}

	sandboxCfg := a.cfg.Sandbox
	if f.mode != "" {
		sandboxCfg.Mode = f.mode
	}
	factory, err := teleport.NewFactory(sandboxCfg, a.logger)
	if err != nil {
		return err
	}
	defer factory.Close()

	db, err := a.openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	hub := eventhub.New(ctx)
	unsubscribe := hub.Subscribe(stateLogger(a.logger))
	defer unsubscribe()

	orch := teleport.New(ctx, teleport.Options{
		Store:             checkpoint.NewStoreForClaudeDir(a.cfg.ClaudeDir),
		NewSandbox:        factory.New,
		Hub:               hub,
		Ledger:            db,
		GitBaseline:       a.cfg.GitBaseline,
		RestorePointLimit: a.cfg.RestorePointLimit,
		Logger:            a.logger,
	})
	defer orch.Close()

	tp, err := orch.Restore(ctx, teleport.SourceFor(sess, tree), f.at)
	if err != nil {
		return err
	}
	if !f.keep {
		defer func() {
			if relErr := orch.Release(context.WithoutCancel(ctx), tp); relErr != nil && err == nil {
				err = relErr
			}
		}()
	}

	out := cmd.OutOrStdout()
	printTeleport(out, tp)

	if f.export != "" {
		if err := exportBundle(ctx, orch, tp, f.export); err != nil {
			return err
		}
		fmt.Fprintf(out, "exported   %s\n", f.export)
	}

	if f.shell {
		err := orch.Shell(ctx, tp, teleport.ShellOptions{
			Stdin:  cmd.InOrStdin(),
			Stdout: out,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if changes, err := orch.Changes(tp); err == nil && len(changes) > 0 {
			fmt.Fprintln(out, "\nchanged since restore:")
			for _, c := range changes {
				fmt.Fprintf(out, "  %-10s %s\n", c.Status, c.Path)
			}
		}
	}

	if f.keep {
		fmt.Fprintf(out, "kept       %s\n", tp.WorkDir)
	}
	return nil
}

func printTeleport(w io.Writer, tp *teleport.Session) {
	fmt.Fprintf(w, "teleport   %s\nsession    %s\ntarget     %s\nmode       %s\nwork dir   %s\n",
		tp.ID, tp.SessionID, tp.Target, tp.Mode, tp.WorkDir)
	if tp.Baseline != "" {
		fmt.Fprintf(w, "baseline   %s\n", tp.Baseline)
	}
	fmt.Fprintf(w, "restored   %d file(s)\n", len(tp.Files))
	for _, file := range tp.Files {
		fmt.Fprintf(w, "  %s (v%d, %d bytes)\n", file.Path, file.Version, file.Size)
	}
	if len(tp.Unresolved) > 0 {
		fmt.Fprintf(w, "unresolved %d checkpoint(s) with no known path\n", len(tp.Unresolved))
	}
	for _, file := range tp.Failed {
		fmt.Fprintf(w, "failed     %s: %s\n", file.Path, file.Error)
	}
}

func exportBundle(ctx context.Context, orch *teleport.Orchestrator, tp *teleport.Session, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	if err := orch.Export(ctx, tp, out); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	return out.Close()
}

// stateLogger logs lifecycle transitions published on the hub
func stateLogger(logger *slog.Logger) eventhub.Broadcaster {
	return eventhub.BroadcasterFunc(func(name string, payload interface{}) {
		ev, ok := payload.(eventhub.TeleportStateEvent)
		if name != eventhub.TeleportState || !ok {
			return
		}
		if ev.Error != "" {
			logger.Warn("teleport state", "session", ev.SessionID, "from", ev.From, "to", ev.To, "error", ev.Error)
			return
		}
		logger.Debug("teleport state", "session", ev.SessionID, "from", ev.From, "to", ev.To)
	})
}

func (a *app) openLedger() (*database.Database, error) {
	if err := a.cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return database.Open(a.cfg.DatabasePath)
}

func newModesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "Report which sandbox modes can be used on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			factory, err := teleport.NewFactory(a.cfg.Sandbox, a.logger)
			if err != nil {
				return err
			}
			defer factory.Close()

			avail := factory.Availability(time.Minute)
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "MODE\tSTATUS")
			for _, m := range sandbox.Modes {
				status := "available"
				if err := avail.Check(cmd.Context(), m); err != nil {
					status = err.Error()
				}
				if m == factory.Mode() {
					status += " (configured)"
				}
				fmt.Fprintf(tw, "%s\t%s\n", m, status)
			}
			return tw.Flush()
		},
	}
}
