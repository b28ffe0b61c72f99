package teleport

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"

	"rewind/internal/git"
	"rewind/internal/process"
	"rewind/internal/pty"
	"rewind/internal/sandbox"
)

// ShellOptions configures an interactive shell
type ShellOptions struct {
	Rows   int
	Cols   int
	Stdin  io.Reader
	Stdout io.Writer
}

var execSeq atomic.Int64

// Shell runs the sandbox's interactive shell in a PTY until it exits or ctx
// is done. While it runs, edits below the working directory are published
// as git change events when a baseline exists.
func (o *Orchestrator) Shell(ctx context.Context, tp *Session, opts ShellOptions) error {
	if err := tp.checkActive(); err != nil {
		return err
	}
	sh, ok := tp.Sandbox.(sandbox.Shell)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoShell, tp.Mode)
	}
	if err := o.machine.move(tp.ID, tp.SessionID, StateShell, nil); err != nil {
		return err
	}
	defer o.machine.move(tp.ID, tp.SessionID, StateReady, nil)

	if dir := tp.hostDir(); dir != "" && tp.Baseline != "" {
		if err := o.changes.Watch(dir); err != nil {
			o.logger.Warn("change watch failed", "dir", dir, "error", err)
		} else {
			defer o.changes.Unwatch(dir)
		}
	}

	session, err := o.ptys.CreateSession(pty.Options{
		ID:     tp.ID,
		Dir:    sh.ShellDir(),
		Argv:   sh.ShellCommand(),
		Rows:   opts.Rows,
		Cols:   opts.Cols,
		Output: opts.Stdout,
	})
	if err != nil {
		return fmt.Errorf("open shell: %w", err)
	}
	defer o.ptys.CloseSession(tp.ID)

	if opts.Stdin != nil {
		go func() {
			buf := make([]byte, 1024)
			for {
				n, err := opts.Stdin.Read(buf)
				if n > 0 {
					if session.Write(string(buf[:n])) != nil {
						return
					}
				}
				if err != nil {
					return
				}
			}
		}()
	}

	return o.ptys.Wait(ctx, tp.ID)
}

// Exec runs argv non-interactively in the restored working directory and
// returns its exit code. Local sandboxes run it on this host; sandboxes with
// their own runtime wrap it in their exec command.
func (o *Orchestrator) Exec(ctx context.Context, tp *Session, argv []string, stdout, stderr io.Writer) (int, error) {
	if err := tp.checkActive(); err != nil {
		return -1, err
	}
	dir := tp.hostDir()
	if dir == "" {
		return -1, fmt.Errorf("%w: %s", ErrNotHostBacked, tp.Mode)
	}
	if sh, ok := tp.Sandbox.(sandbox.Shell); ok && sh.ShellDir() != "" {
		dir = sh.ShellDir()
	}

	switch ex, ok := tp.Sandbox.(sandbox.Executor); {
	case ok:
		argv = ex.ExecCommand(argv)
	case tp.Sandbox.Mode() != sandbox.ModeLocal:
		return -1, fmt.Errorf("%w: %s", ErrExecUnsupported, tp.Mode)
	}

	key := tp.ID + "/exec-" + strconv.FormatInt(execSeq.Add(1), 10)
	return o.processes.Run(ctx, key, process.Spec{
		Argv:   argv,
		Dir:    dir,
		Stdout: stdout,
		Stderr: stderr,
	})
}

// Changes lists files that differ from the restored state
func (o *Orchestrator) Changes(tp *Session) ([]git.FileStatus, error) {
	if err := tp.checkActive(); err != nil {
		return nil, err
	}
	if tp.Baseline == "" {
		return nil, ErrNoBaseline
	}
	repo, err := git.Open(tp.hostDir())
	if err != nil {
		return nil, err
	}
	return repo.Changes()
}
