// internal/session/scanner.go
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rewind/internal/claude"
	"rewind/internal/history"
	"rewind/internal/watcher"
)

var (
	// ErrNotFound is returned when no session matches a lookup
	ErrNotFound = errors.New("session not found")
	// ErrAmbiguous is returned when a prefix matches several sessions
	ErrAmbiguous = errors.New("session prefix is ambiguous")
)

// Options tunes a Scanner
type Options struct {
	// Workers bounds the number of files scanned concurrently
	Workers int
	// TitleMaxLength bounds titles, in runes
	TitleMaxLength int
	Logger         *slog.Logger
}

// Scanner discovers projects and sessions under a Claude directory and keeps
// the result of the last scan until invalidated.
type Scanner struct {
	claudeDir string
	workers   int
	titleMax  int
	logger    *slog.Logger

	mu       sync.RWMutex
	projects []*Project
	scanned  bool
}

// NewScanner creates a scanner for the given Claude directory
func NewScanner(claudeDir string, opts Options) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.TitleMaxLength <= 0 {
		opts.TitleMaxLength = DefaultTitleMaxLength
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scanner{
		claudeDir: claudeDir,
		workers:   opts.Workers,
		titleMax:  opts.TitleMaxLength,
		logger:    opts.Logger.With("component", "scanner"),
	}
}

// ProjectsDir returns the directory holding the project transcripts
func (s *Scanner) ProjectsDir() string {
	return claude.ProjectsDir(s.claudeDir)
}

// Invalidate drops the cached scan
func (s *Scanner) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = nil
	s.scanned = false
}

// Projects returns every project with at least one session, ordered by
// escaped name. The result is shared with the cache and must not be modified.
func (s *Scanner) Projects(ctx context.Context) ([]*Project, error) {
	s.mu.RLock()
	if s.scanned {
		projects := s.projects
		s.mu.RUnlock()
		return projects, nil
	}
	s.mu.RUnlock()

	projects, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.projects = projects
	s.scanned = true
	s.mu.Unlock()
	return projects, nil
}

// Sessions returns all sessions across projects, most recently updated
// first. Agent runs are included only when includeAgents is set.
func (s *Scanner) Sessions(ctx context.Context, includeAgents bool) ([]*Session, error) {
	projects, err := s.Projects(ctx)
	if err != nil {
		return nil, err
	}

	var sessions []*Session
	for _, p := range projects {
		for _, sess := range p.Sessions {
			if includeAgents || !sess.IsAgent {
				sessions = append(sessions, sess)
			}
		}
	}
	sortSessions(sessions)
	return sessions, nil
}

// Find returns the session with the given id, or the single session whose
// id starts with it.
func (s *Scanner) Find(ctx context.Context, idOrPrefix string) (*Session, error) {
	if idOrPrefix == "" {
		return nil, ErrNotFound
	}

	sessions, err := s.Sessions(ctx, true)
	if err != nil {
		return nil, err
	}

	var matches []*Session
	for _, sess := range sessions {
		if sess.ID == idOrPrefix {
			return sess, nil
		}
		if strings.HasPrefix(sess.ID, idOrPrefix) {
			matches = append(matches, sess)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matches %d sessions", ErrAmbiguous, idOrPrefix, len(matches))
	}
}

// AgentSessions returns the agent runs owned by a session, oldest first
func (s *Scanner) AgentSessions(ctx context.Context, parentID string) ([]*Session, error) {
	sessions, err := s.Sessions(ctx, true)
	if err != nil {
		return nil, err
	}

	var agents []*Session
	for _, sess := range sessions {
		if sess.IsAgent && sess.ParentSessionID == parentID {
			agents = append(agents, sess)
		}
	}
	sort.SliceStable(agents, func(i, j int) bool {
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents, nil
}

// LoadTree parses a session's transcript into its causal tree
func (s *Scanner) LoadTree(sess *Session) (*history.Tree, history.LinkReport, error) {
	return history.ParseFile(sess.FilePath, s.logger)
}

// Watch invalidates the cache whenever a transcript changes and calls
// onChange with the affected path. It blocks until ctx is done.
func (s *Scanner) Watch(ctx context.Context, debounce time.Duration, onChange func(path string)) error {
	w, err := watcher.New(s.ProjectsDir(), debounce, func(e watcher.Event) {
		s.Invalidate()
		s.logger.Debug("session file changed", "path", e.Path, "type", e.Type)
		if onChange != nil {
			onChange(e.Path)
		}
	},
		watcher.WithRecursive(),
		watcher.WithFilter(func(p string) bool { return strings.HasSuffix(p, claude.SessionFileExt) }),
		watcher.WithLogger(s.logger),
	)
	if err != nil {
		return fmt.Errorf("watch projects: %w", err)
	}
	defer w.Close()

	if err := w.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// scan walks the projects directory and summarizes every transcript
func (s *Scanner) scan(ctx context.Context) ([]*Project, error) {
	projectsDir := s.ProjectsDir()
	files, err := discover(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read projects dir: %w", err)
	}

	start := time.Now()
	results := make([]*Session, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sess, err := s.scanFile(f)
			if err != nil {
				s.logger.Warn("skipping session file", "path", f.path, "error", err)
				return nil
			}
			results[i] = sess
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byProject := make(map[string]*Project)
	var projects []*Project
	for _, sess := range results {
		if sess == nil {
			continue
		}
		p, ok := byProject[sess.ProjectID]
		if !ok {
			p = &Project{ID: sess.ProjectID, Path: sess.ProjectPath}
			byProject[sess.ProjectID] = p
			projects = append(projects, p)
		}
		p.Sessions = append(p.Sessions, sess)
	}

	for _, p := range projects {
		linkAgents(p)
		sortSessions(p.Sessions)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })

	s.logger.Debug("scan complete", "files", len(files), "projects", len(projects), "elapsed", time.Since(start))
	return projects, nil
}

// scanFile summarizes one transcript. A nil session means the file holds no
// countable events.
func (s *Scanner) scanFile(f discoveredFile) (*Session, error) {
	sum, err := summarizeFile(f.path)
	if err != nil {
		return nil, err
	}
	if sum.messages == 0 {
		return nil, nil
	}

	id := claude.SessionIDFromFile(f.path)
	sess := &Session{
		ID:              id,
		ProjectID:       f.project,
		ProjectPath:     claude.UnescapeProjectPath(f.project),
		FilePath:        f.path,
		Title:           Title(sum.firstUserText, s.titleMax),
		MessageCount:    sum.messages,
		CheckpointCount: sum.checkpoints,
		CreatedAt:       sum.firstTimestamp,
		UpdatedAt:       sum.modTime,
		IsAgent:         claude.IsAgentFile(f.path),
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sum.modTime
	}
	if sess.IsAgent {
		sess.ParentSessionID = sum.ownerSessionID
		if sess.ParentSessionID == "" {
			sess.ParentSessionID = f.owner
		}
	}
	return sess, nil
}

// linkAgents records every agent run on its owner within the project
func linkAgents(p *Project) {
	byID := make(map[string]*Session, len(p.Sessions))
	for _, sess := range p.Sessions {
		if !sess.IsAgent {
			byID[sess.ID] = sess
		}
	}

	agents := make([]*Session, 0)
	for _, sess := range p.Sessions {
		if sess.IsAgent {
			agents = append(agents, sess)
		}
	}
	sort.SliceStable(agents, func(i, j int) bool {
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})

	for _, agent := range agents {
		if owner, ok := byID[agent.ParentSessionID]; ok {
			owner.AgentIDs = append(owner.AgentIDs, agent.ID)
		}
	}
}

// sortSessions orders by last update, newest first, with id as tiebreak
func sortSessions(sessions []*Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}
