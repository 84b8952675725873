// Package watch turns local repository activity into pipeline events.
// A Watcher observes the git metadata of a working copy and emits a
// push event whenever a new commit lands on the default branch, which
// lets a checkout drive the same pipeline a hosted webhook would.
//
// Detection is filesystem-based: HEAD is watched for branch switches
// and logs/HEAD for ref movement. Branch switches are logged but never
// dispatched; reflog entries written by checkouts are ignored so that
// revisiting the default branch does not replay its tip.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

// ErrNotGitRepo indicates the directory has no git metadata to watch.
var ErrNotGitRepo = errors.New("not a git repository")

const defaultDebounce = 2 * time.Second

// Watcher emits push events for new commits on the default branch of
// one working copy. Each working copy, worktrees included, gets its
// own Watcher.
type Watcher struct {
	repoDir       string
	gitDir        string
	owner         string
	repo          string
	defaultBranch string
	debounce      time.Duration

	watcher *fsnotify.Watcher
	events  chan pipeline.Event
	stop    chan struct{}
	logger  *zap.Logger

	mu            sync.Mutex
	currentBranch string
	lastCommit    string
	pendingSHA    string
	timer         *time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the watcher waits after the last ref
// movement before emitting, so a rebase or pull produces one event
// for its final tip instead of one per step.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithSource sets the repository coordinates stamped on emitted
// events. Without it events carry empty coordinates, which the
// pipeline treats as a locally synthesized trigger.
func WithSource(owner, repo string) Option {
	return func(w *Watcher) {
		w.owner = owner
		w.repo = repo
	}
}

// New creates a watcher for the working copy at repoDir. The default
// branch decides which commits dispatch; everything else is only
// logged. Worktrees are supported through their .git file.
func New(repoDir, defaultBranch string, logger *zap.Logger, opts ...Option) (*Watcher, error) {
	if repoDir == "" {
		return nil, errors.New("repo directory is required")
	}
	if defaultBranch == "" {
		return nil, errors.New("default branch is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gitDir, err := DetectGitDir(repoDir)
	if err != nil {
		return nil, fmt.Errorf("detecting git directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}

	w := &Watcher{
		repoDir:       repoDir,
		gitDir:        gitDir,
		defaultBranch: defaultBranch,
		debounce:      defaultDebounce,
		watcher:       fsw,
		events:        make(chan pipeline.Event, 10),
		stop:          make(chan struct{}),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start begins watching. Events arrive on the Events channel until
// Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	branch, err := w.readCurrentBranch()
	if err != nil {
		return fmt.Errorf("reading current branch: %w", err)
	}

	w.mu.Lock()
	w.currentBranch = branch
	// Seed from existing history so startup never replays the tip.
	if sha, _, ok := w.readHeadLog(); ok {
		w.lastCommit = sha
	}
	w.mu.Unlock()

	headFile := filepath.Join(w.gitDir, "HEAD")
	if err := w.watcher.Add(headFile); err != nil {
		return fmt.Errorf("watching HEAD: %w", err)
	}

	logsHead := filepath.Join(w.gitDir, "logs", "HEAD")
	if _, err := os.Stat(logsHead); err == nil {
		// Missing in bare or freshly initialized repositories.
		_ = w.watcher.Add(logsHead)
	}

	go w.processEvents(ctx)

	w.logger.Info("watching repository",
		zap.String("repo_dir", w.repoDir),
		zap.String("branch", branch),
		zap.String("default_branch", w.defaultBranch))

	return nil
}

// Stop stops the watcher and releases the filesystem watch. Safe to
// call more than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
	}

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	_ = w.watcher.Close()
}

// Events returns the channel push events are emitted on.
func (w *Watcher) Events() <-chan pipeline.Event {
	return w.events
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				w.handleFileChange(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleFileChange(path string) {
	if filepath.Base(path) == "HEAD" && filepath.Dir(path) == w.gitDir {
		w.detectBranchSwitch()
		return
	}
	if strings.HasSuffix(path, filepath.Join("logs", "HEAD")) {
		w.detectCommit()
	}
}

// detectBranchSwitch updates the tracked branch. Switches are logged,
// never dispatched: checking out the default branch is not a push.
func (w *Watcher) detectBranchSwitch() {
	branch, err := w.readCurrentBranch()
	if err != nil {
		return
	}

	w.mu.Lock()
	old := w.currentBranch
	if branch == old {
		w.mu.Unlock()
		return
	}
	w.currentBranch = branch
	w.mu.Unlock()

	w.logger.Info("branch switched",
		zap.String("from", old),
		zap.String("to", branch))
}

// detectCommit reads the newest reflog entry and schedules an event
// when it moved the default branch to a commit not seen before.
func (w *Watcher) detectCommit() {
	sha, message, ok := w.readHeadLog()
	if !ok {
		return
	}
	// Checkouts also append to logs/HEAD; the HEAD watch handles them.
	if strings.HasPrefix(message, "checkout:") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if sha == w.lastCommit {
		return
	}
	w.lastCommit = sha

	if w.currentBranch != w.defaultBranch {
		w.logger.Debug("ignoring commit off the default branch",
			zap.String("branch", w.currentBranch),
			zap.String("sha", sha))
		return
	}

	w.pendingSHA = sha
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.emitPending)
}

// emitPending fires after the debounce window. Pending commits are
// always on the default branch; the guard in detectCommit saw to it.
func (w *Watcher) emitPending() {
	w.mu.Lock()
	sha := w.pendingSHA
	w.pendingSHA = ""
	w.mu.Unlock()

	if sha == "" {
		return
	}
	select {
	case <-w.stop:
		return
	default:
	}

	ev := pipeline.Event{
		Kind:          pipeline.EventPush,
		Owner:         w.owner,
		Repo:          w.repo,
		Ref:           "refs/heads/" + w.defaultBranch,
		Branch:        w.defaultBranch,
		SHA:           sha,
		DefaultBranch: true,
	}

	select {
	case w.events <- ev:
		w.logger.Info("commit detected",
			zap.String("branch", w.defaultBranch),
			zap.String("sha", sha))
	default:
		w.logger.Warn("event channel full, dropping commit",
			zap.String("sha", sha))
	}
}

// readHeadLog returns the commit hash and reflog message of the last
// logs/HEAD entry.
func (w *Watcher) readHeadLog() (sha, message string, ok bool) {
	content, err := os.ReadFile(filepath.Join(w.gitDir, "logs", "HEAD"))
	if err != nil {
		return "", "", false
	}

	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return "", "", false
	}

	lines := strings.Split(trimmed, "\n")
	last := lines[len(lines)-1]
	head, message, _ := strings.Cut(last, "\t")
	parts := strings.Fields(head)
	if len(parts) < 2 {
		return "", "", false
	}

	// Fields are old hash, new hash, committer; the message follows
	// the tab.
	return parts[1], message, true
}

// readCurrentBranch parses HEAD. Anything that is not a branch ref
// reads as detached.
func (w *Watcher) readCurrentBranch() (string, error) {
	content, err := os.ReadFile(filepath.Join(w.gitDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}

	head := strings.TrimSpace(string(content))
	if strings.HasPrefix(head, "ref: refs/heads/") {
		return strings.TrimPrefix(head, "ref: refs/heads/"), nil
	}
	return "detached", nil
}

// DetectGitDir resolves the git directory for a working copy. A .git
// directory is returned as is; a .git file is treated as a worktree
// pointer ("gitdir: <path>") and dereferenced.
func DetectGitDir(repoDir string) (string, error) {
	gitPath := filepath.Join(repoDir, ".git")

	info, err := os.Stat(gitPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotGitRepo, repoDir)
		}
		return "", fmt.Errorf("stat .git: %w", err)
	}

	if info.IsDir() {
		return gitPath, nil
	}

	content, err := os.ReadFile(gitPath)
	if err != nil {
		return "", fmt.Errorf("reading .git file: %w", err)
	}

	dir := parseGitDir(string(content))
	if dir == "" {
		return "", fmt.Errorf("%w: invalid .git file format", ErrNotGitRepo)
	}
	return dir, nil
}

func parseGitDir(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "gitdir:") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(content, "gitdir:"))
}
