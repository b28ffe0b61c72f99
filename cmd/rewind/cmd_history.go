package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rewind/internal/database"
	"rewind/internal/eventhub"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		sessionID string
		limit     int
		active    bool
		asJSON    bool
		forget    []string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past restorations from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openLedger()
			if err != nil {
				return err
			}
			defer db.Close()

			for _, id := range forget {
				if _, err := db.GetTeleport(id); err != nil {
					return err
				}
				if err := db.DeleteTeleport(id); err != nil {
					return fmt.Errorf("forget %s: %w", id, err)
				}
			}

			var teleports []*database.Teleport
			if active {
				teleports, err = db.ListActiveTeleports()
			} else {
				teleports, err = db.ListTeleports(sessionID, limit)
			}
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), teleports)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "TELEPORT\tSESSION\tCREATED\tMODE\tTARGET\tFILES\tSTATUS\tWORK DIR")
			for _, tp := range teleports {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					tp.ID, tp.SessionID, tp.CreatedAt.Local().Format(timeLayout),
					tp.Mode, tp.Target, tp.FilesRestored, tp.Status, tp.WorkDir)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "only restorations of this session")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows, 0 for all")
	cmd.Flags().BoolVar(&active, "active", false, "only restorations whose sandbox was kept")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().StringSliceVar(&forget, "forget", nil, "delete these teleport records first")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print transcripts as they change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			hub := eventhub.New(ctx)
			hub.Subscribe(eventhub.BroadcasterFunc(func(name string, payload interface{}) {
				if ev, ok := payload.(eventhub.SessionsChangedEvent); ok && name == eventhub.SessionsChanged {
					fmt.Fprintf(out, "%s  %s\n", time.Now().Format(timeLayout), ev.Path)
				}
			}))

			a.logger.Info("watching transcripts", "dir", a.scanner.ProjectsDir())
			return a.scanner.Watch(ctx, debounce, func(path string) {
				hub.EmitSessionsChanged(eventhub.SessionsChangedEvent{Path: path})
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "coalesce changes within this window")
	return cmd
}
