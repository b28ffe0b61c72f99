package git

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Identity used for baseline commits
const (
	AuthorName  = "rewind"
	AuthorEmail = "rewind@localhost"
)

// Repo represents a Git repository
type Repo struct {
	path string
	repo *git.Repository
}

// FileStatus represents the status of a single file
type FileStatus struct {
	Path   string
	Status string // "modified", "added", "deleted", "untracked", etc.
}

// RepoStatus represents the current status of the repository
type RepoStatus struct {
	Branch    string
	Head      string
	Modified  []FileStatus
	Staged    []FileStatus
	Untracked []FileStatus
	IsClean   bool
}

// Open opens a git repository at the given path
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}

	return &Repo{
		path: path,
		repo: repo,
	}, nil
}

// Baseline initializes a repository at path (or opens an existing one) and
// commits everything in the working tree. The returned hash marks the
// restored state that Changes compares against.
func Baseline(path, message string) (*Repo, string, error) {
	repo, err := git.PlainInit(path, false)
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		repo, err = git.PlainOpen(path)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to init git repository: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return nil, "", fmt.Errorf("failed to stage files: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  AuthorName,
			Email: AuthorEmail,
			When:  time.Now(),
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to commit baseline: %w", err)
	}

	return &Repo{path: path, repo: repo}, hash.String(), nil
}

// Path returns the worktree root
func (r *Repo) Path() string {
	return r.path
}

// Status returns the current status of the repository
func (r *Repo) Status() (*RepoStatus, error) {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	branch, err := r.CurrentBranch()
	if err != nil {
		branch = "" // Branch might not exist yet (empty repo)
	}
	head, _ := r.Head()

	repoStatus := &RepoStatus{
		Branch:    branch,
		Head:      head,
		Modified:  make([]FileStatus, 0),
		Staged:    make([]FileStatus, 0),
		Untracked: make([]FileStatus, 0),
		IsClean:   status.IsClean(),
	}

	for path, fileStatus := range status {
		fs := FileStatus{Path: path}

		// Check staging area status
		if fileStatus.Staging != git.Unmodified && fileStatus.Staging != git.Untracked {
			fs.Status = mapStatusCode(fileStatus.Staging)
			repoStatus.Staged = append(repoStatus.Staged, fs)
		}

		// Check worktree status
		if fileStatus.Worktree == git.Untracked {
			fs.Status = "untracked"
			repoStatus.Untracked = append(repoStatus.Untracked, fs)
		} else if fileStatus.Worktree != git.Unmodified {
			fs.Status = mapStatusCode(fileStatus.Worktree)
			repoStatus.Modified = append(repoStatus.Modified, fs)
		}
	}

	sortByPath(repoStatus.Modified)
	sortByPath(repoStatus.Staged)
	sortByPath(repoStatus.Untracked)
	return repoStatus, nil
}

// Changes lists every file that differs from the last commit, sorted by path
func (r *Repo) Changes() ([]FileStatus, error) {
	status, err := r.Status()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var changes []FileStatus
	for _, group := range [][]FileStatus{status.Modified, status.Untracked, status.Staged} {
		for _, fs := range group {
			if seen[fs.Path] {
				continue
			}
			seen[fs.Path] = true
			changes = append(changes, fs)
		}
	}
	sortByPath(changes)
	return changes, nil
}

func sortByPath(files []FileStatus) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}

// mapStatusCode converts go-git status codes to human-readable strings
func mapStatusCode(code git.StatusCode) string {
	switch code {
	case git.Unmodified:
		return "unmodified"
	case git.Untracked:
		return "untracked"
	case git.Modified:
		return "modified"
	case git.Added:
		return "added"
	case git.Deleted:
		return "deleted"
	case git.Renamed:
		return "renamed"
	case git.Copied:
		return "copied"
	case git.UpdatedButUnmerged:
		return "updated-but-unmerged"
	default:
		return "unknown"
	}
}

// CurrentBranch returns the name of the current branch
func (r *Repo) CurrentBranch() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	if !ref.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached")
	}
	return ref.Name().Short(), nil
}

// Head returns the commit hash HEAD points at
func (r *Repo) Head() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}
