// Package vcs provides the harness's version-control adapter: a branch
// change watcher plus synchronous git operations (status, commit, reset,
// revert) used by the scheduler and session runtime.
package vcs

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/adaharness/ada/internal/event"
)

// Watcher watches for git branch changes by monitoring the .git directory.
type Watcher struct {
	watcher       *fsnotify.Watcher
	workDir       string
	gitDir        string
	currentBranch string
	stopCh        chan struct{}
	doneCh        chan struct{}
	started       bool
	mu            sync.RWMutex
}

// NewWatcher creates a new VCS watcher for the given work directory.
// Returns nil if the directory is not a git repository.
func NewWatcher(workDir string) (*Watcher, error) {
	gitDir := findGitDir(workDir)
	if gitDir == "" {
		log.Debug().Str("workDir", workDir).Msg("not a git repository, VCS watcher disabled")
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(gitDir); err != nil {
		w.Close()
		return nil, err
	}

	branch := getCurrentBranch(workDir)
	log.Info().Str("branch", branch).Str("gitDir", gitDir).Msg("VCS watcher initialized")

	return &Watcher{
		watcher:       w,
		workDir:       workDir,
		gitDir:        gitDir,
		currentBranch: branch,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start begins watching for branch changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if strings.HasSuffix(ev.Name, "HEAD") || strings.Contains(ev.Name, ".git") {
					w.checkBranchChange()
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("VCS watcher error")
		}
	}
}

func (w *Watcher) checkBranchChange() {
	newBranch := getCurrentBranch(w.workDir)

	w.mu.Lock()
	oldBranch := w.currentBranch
	changed := newBranch != oldBranch
	if changed {
		w.currentBranch = newBranch
	}
	w.mu.Unlock()

	if changed {
		log.Info().Str("from", oldBranch).Str("to", newBranch).Msg("branch changed")

		event.PublishSync(event.Event{
			Type: event.VcsBranchChanged,
			Data: event.VcsBranchChangedData{Branch: newBranch},
		})
	}
}

// CurrentBranch returns the currently tracked branch name.
func (w *Watcher) CurrentBranch() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentBranch
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}

// findGitDir finds the .git directory for a given work directory, handling
// both regular repos and worktrees.
func findGitDir(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}

	gitDir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(workDir, gitDir)
	}

	return gitDir
}

func getCurrentBranch(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// GetBranch returns the current branch for a given directory (static helper).
func GetBranch(workDir string) string {
	return getCurrentBranch(workDir)
}

// FileStatus is one line of `git status --porcelain` output.
type FileStatus struct {
	Path  string
	Index byte // staged status code
	Work  byte // worktree status code
}

// StatusResult is the full working-tree status.
type StatusResult struct {
	Branch string
	Files  []FileStatus
	Clean  bool
}

// Error wraps a failed git invocation with its command and captured stderr,
// the shape the error classifier and session runtime both inspect.
type Error struct {
	Command string
	Stderr  string
	Err     error
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %v: %s", e.Command, e.Err, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("git %s: %v", e.Command, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func runGit(workDir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = workDir
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", &Error{Command: strings.Join(args, " "), Stderr: stderr.String(), Err: err}
	}
	return string(out), nil
}

// Status returns the working tree's current status.
func Status(workDir string) (*StatusResult, error) {
	out, err := runGit(workDir, "status", "--porcelain", "-b")
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	result := &StatusResult{}
	for i, line := range lines {
		if line == "" {
			continue
		}
		if i == 0 && strings.HasPrefix(line, "##") {
			result.Branch = strings.TrimSpace(strings.TrimPrefix(line, "##"))
			if idx := strings.Index(result.Branch, "..."); idx >= 0 {
				result.Branch = result.Branch[:idx]
			}
			continue
		}
		if len(line) < 3 {
			continue
		}
		result.Files = append(result.Files, FileStatus{
			Index: line[0],
			Work:  line[1],
			Path:  strings.TrimSpace(line[3:]),
		})
	}
	result.Clean = len(result.Files) == 0
	return result, nil
}

// HeadCommit returns the current HEAD commit hash.
func HeadCommit(workDir string) (string, error) {
	out, err := runGit(workDir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CommitAll stages every change under workDir and commits it with message,
// returning the resulting commit hash. Returns an empty hash with no error
// if there was nothing to commit.
func CommitAll(workDir, message string) (string, error) {
	status, err := Status(workDir)
	if err != nil {
		return "", err
	}
	if status.Clean {
		return "", nil
	}

	if _, err := runGit(workDir, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := runGit(workDir, "commit", "-m", message); err != nil {
		return "", err
	}
	return HeadCommit(workDir)
}

// Commit is one entry of RecentCommits.
type Commit struct {
	Hash    string `json:"hash"`
	Subject string `json:"subject"`
	When    int64  `json:"when"`
}

// RecentCommits returns the last n commits on the current branch, most
// recent first.
func RecentCommits(workDir string, n int) ([]Commit, error) {
	format := "%H%x1f%s%x1f%at"
	out, err := runGit(workDir, "log", "-n", strconv.Itoa(n), "--pretty=format:"+format)
	if err != nil {
		if strings.Contains(err.Error(), "does not have any commits yet") {
			return nil, nil
		}
		return nil, err
	}

	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\x1f")
		if len(parts) != 3 {
			continue
		}
		when, _ := strconv.ParseInt(parts[2], 10, 64)
		commits = append(commits, Commit{Hash: parts[0], Subject: parts[1], When: when})
	}
	return commits, nil
}

// Reset moves HEAD (and optionally the working tree, if hard is true) to
// the given commit hash.
func Reset(workDir, hash string, hard bool) error {
	mode := "--mixed"
	if hard {
		mode = "--hard"
	}
	_, err := runGit(workDir, "reset", mode, hash)
	return err
}

// Revert creates a new commit that undoes the given commit hash.
func Revert(workDir, hash string) error {
	_, err := runGit(workDir, "revert", "--no-edit", hash)
	return err
}
