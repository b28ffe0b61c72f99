package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"rewind/internal/claude"
	"rewind/internal/history"
	"rewind/internal/session"
)

func newProjectsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects with recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := a.scanner.Projects(cmd.Context())
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "PROJECT\tSESSIONS\tLAST ACTIVITY")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", p.Path, len(p.Sessions), p.LastActivity().Local().Format(timeLayout))
			}
			return tw.Flush()
		},
	}
}

func newSessionsCmd(a *app) *cobra.Command {
	var (
		project string
		agents  bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := a.scanner.Sessions(cmd.Context(), agents)
			if err != nil {
				return err
			}
			if project != "" {
				escaped := claude.EscapeProjectPath(project)
				filtered := sessions[:0]
				for _, s := range sessions {
					if s.ProjectID == escaped || s.ProjectID == project {
						filtered = append(filtered, s)
					}
				}
				sessions = filtered
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sessions)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tUPDATED\tMSGS\tCKPTS\tPROJECT\tTITLE")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
					s.ID, s.UpdatedAt.Local().Format(timeLayout), s.MessageCount, s.CheckpointCount,
					s.ProjectPath, truncate(s.Title, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "only sessions of this project path")
	cmd.Flags().BoolVar(&agents, "agents", false, "include agent sessions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var (
		tree bool
		from string
	)
	cmd := &cobra.Command{
		Use:   "show <session>",
		Short: "Print the main thread of a session",
		Long: `Print the main thread of a session, following the first conversational
branch at every fork. --tree prints every branch instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, t, report, err := a.loadSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "session  %s\nproject  %s\ntitle    %s\nevents   %d (%d linked, %d promoted to root)\n",
				sess.ID, sess.ProjectPath, sess.Title, t.Len(), len(report.Linked), len(report.RootPromoted))
			agents, err := a.scanner.AgentSessions(cmd.Context(), sess.ID)
			if err != nil {
				return err
			}
			for _, agent := range agents {
				fmt.Fprintf(out, "agent    %s  %s\n", agent.ID, truncate(agent.Title, 60))
			}
			fmt.Fprintln(out)

			if tree {
				for _, root := range t.Roots() {
					printBranch(out, t, root, 0)
				}
				return nil
			}

			thread := t.MainThread()
			if from != "" {
				if !t.Has(from) {
					return fmt.Errorf("%w: %s", session.ErrNotFound, from)
				}
				thread = t.MainThreadFrom(from)
			}
			for _, ev := range thread {
				printEvent(out, ev, 0)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&tree, "tree", false, "print every branch")
	cmd.Flags().StringVar(&from, "from", "", "start the main thread at this event")
	return cmd
}

func printBranch(w io.Writer, t *history.Tree, ev *history.Event, depth int) {
	printEvent(w, ev, depth)
	for _, child := range t.Children(ev.ID) {
		printBranch(w, t, child, depth+1)
	}
}

func printEvent(w io.Writer, ev *history.Event, depth int) {
	text := ev.Text
	switch ev.Kind {
	case history.KindSnapshot:
		n := 0
		if ev.Snapshot != nil {
			n = len(ev.Snapshot.TrackedFiles)
		}
		text = fmt.Sprintf("%d tracked file(s)", n)
	case history.KindAssistant:
		var tools []string
		for _, use := range ev.ToolUses {
			if p, ok := use.Path(); ok {
				tools = append(tools, use.Name+" "+p)
			} else {
				tools = append(tools, use.Name)
			}
		}
		if len(tools) > 0 {
			text = strings.TrimSpace(text + " [" + strings.Join(tools, ", ") + "]")
		}
	}
	fmt.Fprintf(w, "%s%s  %-22s %-10s %s\n",
		strings.Repeat("  ", depth),
		ev.Timestamp.Local().Format(timeLayout),
		ev.ID, ev.Kind, truncate(text, 100))
}

// truncate flattens s to one line of at most n runes
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
