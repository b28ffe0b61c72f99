// Package teleport restores the files of a recorded session into a sandbox
// and manages the sandbox until it is released.
package teleport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"rewind/internal/checkpoint"
	"rewind/internal/database"
	"rewind/internal/eventhub"
	"rewind/internal/git"
	"rewind/internal/history"
	"rewind/internal/process"
	"rewind/internal/pty"
	"rewind/internal/sandbox"
	"rewind/internal/session"
)

var (
	// ErrUnknownRestorePoint is returned for a target that is not an event of the session
	ErrUnknownRestorePoint = errors.New("unknown restore point")
	// ErrRestoreInProgress is returned while another restoration owns the session
	ErrRestoreInProgress = errors.New("restore already in progress")
	// ErrSandboxStart wraps every failure to provision a sandbox
	ErrSandboxStart = errors.New("sandbox failed to start")
	// ErrNoShell is returned when the sandbox cannot host a shell
	ErrNoShell = errors.New("sandbox has no shell")
	// ErrNotHostBacked is returned for operations that need the files on this host
	ErrNotHostBacked = errors.New("sandbox files are not on this host")
	// ErrExecUnsupported is returned by Exec for sandboxes that cannot run a
	// command in isolation
	ErrExecUnsupported = errors.New("sandbox cannot run commands")
	// ErrNoBaseline is returned by Changes when no baseline commit was made
	ErrNoBaseline = errors.New("no baseline commit")
	// ErrReleased is returned for operations on a released teleport
	ErrReleased = errors.New("teleport already released")
)

// Source is the recorded session to restore
type Source struct {
	SessionID   string
	ProjectPath string
	Tree        *history.Tree
}

// SourceFor pairs scanned session metadata with its parsed tree
func SourceFor(sess *session.Session, tree *history.Tree) Source {
	return Source{SessionID: sess.ID, ProjectPath: sess.ProjectPath, Tree: tree}
}

// SandboxFactory provisions an unstarted sandbox for a source session
type SandboxFactory func(sessionID, projectPath string) (sandbox.Sandbox, error)

// Ledger persists teleport records
type Ledger interface {
	RecordTeleport(tp *database.Teleport) error
	MarkReleased(id string, at time.Time) error
	MarkFailed(id string, cause error, at time.Time) error
}

// Options wires an Orchestrator
type Options struct {
	Store      *checkpoint.Store
	Resolver   *checkpoint.Resolver
	NewSandbox SandboxFactory
	Hub        *eventhub.EventHub
	Ledger     Ledger
	// GitBaseline commits the restored tree so Changes can report edits
	GitBaseline bool
	// RestorePointLimit bounds RestorePoints
	RestorePointLimit int
	Logger            *slog.Logger
}

// Orchestrator restores sessions into sandboxes. At most one restoration
// per source session exists at a time.
type Orchestrator struct {
	store       *checkpoint.Store
	resolver    *checkpoint.Resolver
	newSandbox  SandboxFactory
	hub         *eventhub.EventHub
	ledger      Ledger
	gitBaseline bool
	limit       int
	logger      *slog.Logger

	machine   *machine
	ptys      *pty.Manager
	processes *process.Manager
	changes   *git.ChangeWatcher
}

// New creates an Orchestrator
func New(ctx context.Context, opts Options) *Orchestrator {
	if opts.Resolver == nil {
		opts.Resolver = checkpoint.NewResolver()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RestorePointLimit <= 0 {
		opts.RestorePointLimit = DefaultRestorePointLimit
	}
	logger := opts.Logger.With("component", "teleport")
	return &Orchestrator{
		store:       opts.Store,
		resolver:    opts.Resolver,
		newSandbox:  opts.NewSandbox,
		hub:         opts.Hub,
		ledger:      opts.Ledger,
		gitBaseline: opts.GitBaseline,
		limit:       opts.RestorePointLimit,
		logger:      logger,
		machine:     newMachine(opts.Hub),
		ptys:        pty.NewManager(ctx, opts.Hub),
		processes:   process.NewManager(ctx, opts.Hub, opts.Logger),
		changes:     git.NewChangeWatcher(opts.Hub, opts.Logger),
	}
}

// State returns the lifecycle state of a source session
func (o *Orchestrator) State(sessionID string) State {
	return o.machine.get(sessionID)
}

// RestorePoints lists the restore points of a tree using the configured limit
func (o *Orchestrator) RestorePoints(tree *history.Tree) []RestorePoint {
	return ListRestorePoints(tree, o.limit)
}

// Restore provisions a sandbox and writes the newest checkpoint of every file
// of the source session into it. target is "", "latest" or an event id of
// the session's tree. Individual file failures are recorded on the returned
// Session; failing to provision the sandbox is an error wrapping
// ErrSandboxStart. Callers must Release the returned Session.
func (o *Orchestrator) Restore(ctx context.Context, src Source, target string) (*Session, error) {
	if src.Tree == nil {
		return nil, fmt.Errorf("restore %s: no history tree", src.SessionID)
	}
	if target == "" {
		target = LatestTarget
	}
	if target != LatestTarget && !src.Tree.Has(target) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRestorePoint, target)
	}

	if err := o.machine.acquire(src.SessionID); err != nil {
		return nil, err
	}

	tp := &Session{
		ID:          uuid.New().String(),
		SessionID:   src.SessionID,
		ProjectPath: src.ProjectPath,
		Target:      target,
		CreatedAt:   time.Now(),
	}
	logger := o.logger.With("teleport", tp.ID, "session", src.SessionID)

	sb, err := o.startSandbox(ctx, src)
	if err != nil {
		o.machine.move(tp.ID, src.SessionID, StateIdle, err)
		return nil, err
	}
	tp.Sandbox = sb
	tp.Mode = string(sb.Mode())
	tp.WorkDir = sb.WorkDir()
	o.machine.move(tp.ID, src.SessionID, StateRestoring, nil)

	if err := o.restoreFiles(ctx, tp, src, logger); err != nil {
		o.abort(tp, err, logger)
		return nil, err
	}

	if o.gitBaseline {
		o.commitBaseline(tp, logger)
	}
	o.record(tp, logger)

	o.machine.move(tp.ID, src.SessionID, StateReady, nil)
	logger.Info("restore complete",
		"target", target,
		"mode", tp.Mode,
		"work_dir", tp.WorkDir,
		"restored", len(tp.Files),
		"unresolved", len(tp.Unresolved),
		"failed", len(tp.Failed))
	return tp, nil
}

func (o *Orchestrator) startSandbox(ctx context.Context, src Source) (sandbox.Sandbox, error) {
	if o.newSandbox == nil {
		return nil, fmt.Errorf("%w: no sandbox factory", ErrSandboxStart)
	}
	sb, err := o.newSandbox(src.SessionID, src.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSandboxStart, err)
	}
	if _, err := sb.Start(ctx); err != nil {
		// Start may have provisioned part of the sandbox
		if stopErr := sb.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			o.logger.Warn("cleanup after failed start", "session", src.SessionID, "error", stopErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrSandboxStart, err)
	}
	return sb, nil
}

func (o *Orchestrator) restoreFiles(ctx context.Context, tp *Session, src Source, logger *slog.Logger) error {
	if o.store == nil {
		return errors.New("no checkpoint store")
	}
	idx, err := o.store.Index(src.SessionID)
	if err != nil {
		return fmt.Errorf("index checkpoints: %w", err)
	}
	mapping := o.resolver.Mapping(src.SessionID, src.Tree)

	for _, hash := range idx.Hashes() {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Only the newest version of each file is restored
		cp, ok := idx.Latest(hash)
		if !ok {
			continue
		}
		path, ok := mapping.Resolve(hash)
		if !ok {
			logger.Debug("checkpoint has no known path", "hash", hash)
			tp.Unresolved = append(tp.Unresolved, hash)
			continue
		}

		data, err := o.store.Read(cp)
		if err == nil {
			err = tp.Sandbox.WriteFile(ctx, path, data)
		}
		if err != nil {
			logger.Warn("file not restored", "path", path, "hash", hash, "error", err)
			tp.Failed = append(tp.Failed, FailedFile{Path: path, Hash: hash, Error: err.Error()})
			continue
		}
		tp.Files = append(tp.Files, RestoredFile{Path: path, Hash: hash, Version: cp.Version, Size: len(data)})
	}

	sort.Slice(tp.Files, func(i, j int) bool { return tp.Files[i].Path < tp.Files[j].Path })
	if len(tp.Unresolved) > 0 {
		logger.Info("unresolved checkpoints skipped", "count", len(tp.Unresolved))
	}
	return nil
}

func (o *Orchestrator) commitBaseline(tp *Session, logger *slog.Logger) {
	dir := tp.hostDir()
	if dir == "" {
		return
	}
	_, hash, err := git.Baseline(dir, fmt.Sprintf("rewind: %s at %s", tp.SessionID, tp.Target))
	if err != nil {
		logger.Warn("baseline commit failed", "dir", dir, "error", err)
		return
	}
	tp.Baseline = hash
}

func (o *Orchestrator) record(tp *Session, logger *slog.Logger) {
	if o.ledger == nil {
		return
	}
	err := o.ledger.RecordTeleport(&database.Teleport{
		ID:            tp.ID,
		SessionID:     tp.SessionID,
		ProjectPath:   tp.ProjectPath,
		Mode:          tp.Mode,
		WorkDir:       tp.WorkDir,
		Target:        tp.Target,
		FilesRestored: len(tp.Files),
		FilesFailed:   len(tp.Failed),
		Unresolved:    len(tp.Unresolved),
		Status:        database.StatusActive,
		CreatedAt:     tp.CreatedAt,
	})
	if err != nil {
		logger.Warn("ledger write failed", "error", err)
	}
}

// abort releases a sandbox whose restoration failed
func (o *Orchestrator) abort(tp *Session, cause error, logger *slog.Logger) {
	o.machine.move(tp.ID, tp.SessionID, StateStopping, cause)
	if err := tp.Sandbox.Stop(context.Background()); err != nil {
		logger.Warn("sandbox stop failed", "error", err)
	}
	tp.mu.Lock()
	tp.released = true
	tp.mu.Unlock()

	if o.ledger != nil {
		o.record(tp, logger)
		if err := o.ledger.MarkFailed(tp.ID, cause, time.Now()); err != nil {
			logger.Warn("ledger update failed", "error", err)
		}
	}
	o.machine.move(tp.ID, tp.SessionID, StateIdle, cause)
}

// Release stops everything attached to tp and removes its sandbox. Releasing
// twice is a no-op.
func (o *Orchestrator) Release(ctx context.Context, tp *Session) error {
	if tp == nil {
		return nil
	}
	tp.mu.Lock()
	if tp.released {
		tp.mu.Unlock()
		return nil
	}
	tp.released = true
	tp.mu.Unlock()

	logger := o.logger.With("teleport", tp.ID, "session", tp.SessionID)
	o.machine.move(tp.ID, tp.SessionID, StateStopping, nil)

	if _, ok := o.ptys.GetSession(tp.ID); ok {
		o.ptys.CloseSession(tp.ID)
	}
	for _, key := range o.processes.List() {
		if strings.HasPrefix(key, tp.ID+"/") {
			o.processes.Kill(key)
		}
	}
	if dir := tp.hostDir(); dir != "" {
		o.changes.Unwatch(dir)
	}

	stopErr := tp.Sandbox.Stop(ctx)
	if stopErr != nil {
		logger.Warn("sandbox stop failed", "error", stopErr)
	}

	if o.ledger != nil {
		if err := o.ledger.MarkReleased(tp.ID, time.Now()); err != nil {
			logger.Warn("ledger update failed", "error", err)
		}
	}

	o.machine.move(tp.ID, tp.SessionID, StateIdle, stopErr)
	logger.Info("teleport released")
	if stopErr != nil {
		return fmt.Errorf("release %s: %w", tp.ID, stopErr)
	}
	return nil
}

// Close stops every shell, command and change watch the orchestrator started.
// Sandboxes are left alone; Release them first.
func (o *Orchestrator) Close() {
	o.ptys.CloseAll()
	o.processes.KillAll()
	o.changes.Close()
}

func (tp *Session) checkActive() error {
	if tp.Released() {
		return fmt.Errorf("%w: %s", ErrReleased, tp.ID)
	}
	return nil
}
