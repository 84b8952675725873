package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/alias"
	"github.com/fyrsmithlabs/shipd/internal/version"
)

// ManifestFile is the version manifest at the site root.
const ManifestFile = "versions.json"

// ErrVersionNotFound indicates an alias operation against a version
// that was never deployed.
var ErrVersionNotFound = errors.New("version not deployed")

// labelPattern restricts version and alias names to safe directory
// names. Anything else could escape the site root.
var labelPattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._-]*$`)

// GitStoreConfig configures a GitStore.
type GitStoreConfig struct {
	// AuthorName and AuthorEmail sign the deployment commits.
	AuthorName  string
	AuthorEmail string

	// PushRemote pushes the publishing branch after each commit when
	// set. Empty keeps commits local; the caller pushes on its own
	// schedule. Pushes are last-writer-wins at the branch level.
	PushRemote string
}

func (c *GitStoreConfig) applyDefaults() {
	if c.AuthorName == "" {
		c.AuthorName = "shipd"
	}
	if c.AuthorEmail == "" {
		c.AuthorEmail = "shipd@users.noreply.github.com"
	}
}

// GitStoreOption configures optional GitStore behavior.
type GitStoreOption func(*GitStore)

// WithGitStoreLogger sets the logger.
func WithGitStoreLogger(logger *zap.Logger) GitStoreOption {
	return func(s *GitStore) {
		s.logger = logger
	}
}

// GitStore keeps versioned documentation on a git publishing branch,
// one commit per deployment or alias move. The repository must be
// open on the publishing branch; for tests an in-memory repository
// works unchanged.
type GitStore struct {
	repo   *git.Repository
	wt     *git.Worktree
	fs     billy.Filesystem
	cfg    GitStoreConfig
	logger *zap.Logger
}

// NewGitStore creates a store over an open repository.
func NewGitStore(repo *git.Repository, cfg GitStoreConfig, opts ...GitStoreOption) (*GitStore, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}

	cfg.applyDefaults()

	s := &GitStore{
		repo:   repo,
		wt:     wt,
		fs:     wt.Filesystem,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Deploy implements VersionStore. Redeploying a version replaces its
// directory wholesale, so repeated deployments of identical content
// converge to a single commit.
func (s *GitStore) Deploy(ctx context.Context, req DeployRequest) error {
	if !labelPattern.MatchString(req.Version) {
		return fmt.Errorf("invalid version label %q", req.Version)
	}
	if req.Title == "" {
		req.Title = req.Version
	}

	if err := util.RemoveAll(s.fs, req.Version); err != nil {
		return fmt.Errorf("clearing %s: %w", req.Version, err)
	}
	if err := copyDirIn(s.fs, req.Version, req.SourceDir); err != nil {
		return fmt.Errorf("copying site: %w", err)
	}

	entries, err := s.readManifest()
	if err != nil {
		return err
	}

	found := false
	for i := range entries {
		if entries[i].Version == req.Version {
			entries[i].Title = req.Title
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, VersionInfo{Version: req.Version, Title: req.Title, Aliases: []string{}})
	}

	if err := s.writeManifest(entries); err != nil {
		return err
	}
	if err := s.commit(ctx, fmt.Sprintf("Deploy %s", req.Version)); err != nil {
		return err
	}

	s.logger.Info("docs deployed",
		zap.String("version", req.Version),
		zap.String("title", req.Title))
	return nil
}

// SetAlias implements VersionStore. Moving an alias rewrites its
// redirect directory and the manifest in one commit. An alias equal
// to its version is the rolling-label case and writes nothing.
func (s *GitStore) SetAlias(ctx context.Context, name, ver string) error {
	if !labelPattern.MatchString(name) {
		return fmt.Errorf("invalid alias label %q", name)
	}

	entries, err := s.readManifest()
	if err != nil {
		return err
	}

	target := -1
	for i := range entries {
		if entries[i].Version == ver {
			target = i
			break
		}
	}
	if target < 0 {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, ver)
	}

	if name == ver {
		return nil
	}

	for i := range entries {
		entries[i].Aliases = remove(entries[i].Aliases, name)
	}
	entries[target].Aliases = append(entries[target].Aliases, name)
	sort.Strings(entries[target].Aliases)

	if err := util.RemoveAll(s.fs, name); err != nil {
		return fmt.Errorf("clearing %s: %w", name, err)
	}
	if err := writeRedirect(s.fs, name, ver); err != nil {
		return err
	}

	if err := s.writeManifest(entries); err != nil {
		return err
	}
	if err := s.commit(ctx, fmt.Sprintf("Point %s at %s", name, ver)); err != nil {
		return err
	}

	s.logger.Info("alias updated",
		zap.String("alias", name),
		zap.String("version", ver))
	return nil
}

// GetAlias implements VersionStore. A deployed version resolves to
// itself, so rolling labels like "dev" read back like any alias.
func (s *GitStore) GetAlias(_ context.Context, name string) (string, error) {
	entries, err := s.readManifest()
	if err != nil {
		return "", err
	}

	for _, e := range entries {
		for _, a := range e.Aliases {
			if a == name {
				return e.Version, nil
			}
		}
	}
	for _, e := range entries {
		if e.Version == name {
			return name, nil
		}
	}
	return "", alias.ErrNotFound
}

// Versions implements VersionStore.
func (s *GitStore) Versions(_ context.Context) ([]VersionInfo, error) {
	return s.readManifest()
}

func (s *GitStore) readManifest() ([]VersionInfo, error) {
	data, err := util.ReadFile(s.fs, ManifestFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ManifestFile, err)
	}

	var entries []VersionInfo
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ManifestFile, err)
	}
	return entries, nil
}

func (s *GitStore) writeManifest(entries []VersionInfo) error {
	// Newest first, the order mike keeps and version pickers expect.
	sort.SliceStable(entries, func(i, j int) bool {
		return version.Compare(entries[i].Version, entries[j].Version) > 0
	})

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ManifestFile, err)
	}
	if err := util.WriteFile(s.fs, ManifestFile, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", ManifestFile, err)
	}
	return nil
}

// commit stages everything and commits. No staged changes means the
// deployment already converged, which is success, not an error.
func (s *GitStore) commit(ctx context.Context, msg string) error {
	if err := s.wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("staging site: %w", err)
	}

	sig := &object.Signature{
		Name:  s.cfg.AuthorName,
		Email: s.cfg.AuthorEmail,
		When:  time.Now(),
	}
	_, err := s.wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
	if errors.Is(err, git.ErrEmptyCommit) {
		s.logger.Debug("site unchanged, no commit", zap.String("message", msg))
		return nil
	}
	if err != nil {
		return fmt.Errorf("committing site: %w", err)
	}

	if s.cfg.PushRemote == "" {
		return nil
	}
	err = s.repo.PushContext(ctx, &git.PushOptions{RemoteName: s.cfg.PushRemote})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pushing to %s: %w", s.cfg.PushRemote, err)
	}
	return nil
}

// copyDirIn copies an OS directory tree into the site filesystem
// under dstRoot.
func copyDirIn(dst billy.Filesystem, dstRoot, srcDir string) error {
	return filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		target := path.Join(dstRoot, filepath.ToSlash(rel))
		if d.IsDir() {
			return dst.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return util.WriteFile(dst, target, data, 0o644)
	})
}

// writeRedirect writes the alias redirect page mike readers expect.
func writeRedirect(dst billy.Filesystem, name, ver string) error {
	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="0; url=../%[1]s/">
<link rel="canonical" href="../%[1]s/">
<title>Redirecting</title>
</head>
<body>
<p>Redirecting to <a href="../%[1]s/">%[1]s</a>&hellip;</p>
</body>
</html>
`, ver)
	if err := util.WriteFile(dst, path.Join(name, "index.html"), []byte(page), 0o644); err != nil {
		return fmt.Errorf("writing redirect %s: %w", name, err)
	}
	return nil
}

func remove(list []string, item string) []string {
	out := list[:0]
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}
