package stages

import (
	"context"
	"fmt"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/build"
	"github.com/fyrsmithlabs/shipd/internal/command"
	"github.com/fyrsmithlabs/shipd/internal/config"
	"github.com/fyrsmithlabs/shipd/internal/docstore"
	"github.com/fyrsmithlabs/shipd/internal/manifest"
	"github.com/fyrsmithlabs/shipd/internal/registry"
	"github.com/fyrsmithlabs/shipd/internal/scan"
)

// DepsFromConfig assembles the stage collaborators from the daemon
// configuration: the project manifest, the builder, the package
// indexes, the documentation store, and the secret scanner. The
// daemon's local dispatch mode and the pipeline worker both wire their
// runners through this, so the two execution substrates bind identical
// pipelines.
func DepsFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Deps, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m, err := manifest.LoadFile(filepath.Join(cfg.Workspace.RepoDir, cfg.Workspace.ManifestFile))
	if err != nil {
		return Deps{}, err
	}

	runner := command.NewRunner()
	builder, err := build.NewBuilder(runner, logger)
	if err != nil {
		return Deps{}, fmt.Errorf("initializing builder: %w", err)
	}

	stable, err := newIndexTarget(ctx, "stable", cfg.Registry.Stable, m.Registry.StableRepository)
	if err != nil {
		return Deps{}, err
	}
	test, err := newIndexTarget(ctx, "test", cfg.Registry.Test, m.Registry.TestRepository)
	if err != nil {
		return Deps{}, err
	}

	docs, err := NewDocStore(cfg, logger)
	if err != nil {
		return Deps{}, err
	}

	var scanner *scan.Scanner
	if cfg.Scan.Enabled {
		scanner, err = scan.NewScanner(
			scan.WithLogger(logger),
			scan.WithMaxFileSize(int64(cfg.Scan.MaxFileSizeKB)*1024),
		)
		if err != nil {
			return Deps{}, fmt.Errorf("initializing secret scanner: %w", err)
		}
	}

	return Deps{
		RepoDir:     cfg.Workspace.RepoDir,
		Manifest:    m,
		Commands:    runner,
		Builder:     builder,
		StableIndex: stable,
		TestIndex:   test,
		Docs:        docs,
		Scanner:     scanner,
	}, nil
}

// NewDocStore opens the documentation store named by the configuration.
// Without a configured checkout it falls back to an in-memory store so
// deployments stay observable through the alias API; they do not
// survive a restart.
func NewDocStore(cfg *config.Config, logger *zap.Logger) (docstore.VersionStore, error) {
	if cfg.Docs.RepoPath == "" {
		logger.Warn("docs.repo_path not configured, documentation deploys are kept in memory only")
		return docstore.NewMemDocStore(), nil
	}

	repo, err := git.PlainOpen(cfg.Docs.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("opening docs checkout %s: %w", cfg.Docs.RepoPath, err)
	}
	store, err := docstore.NewGitStore(repo, docstore.GitStoreConfig{
		AuthorName:  cfg.Docs.AuthorName,
		AuthorEmail: cfg.Docs.AuthorEmail,
		PushRemote:  cfg.Docs.PushRemote,
	}, docstore.WithGitStoreLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("initializing docs store: %w", err)
	}
	return store, nil
}

// newIndexTarget builds one OCI package index target. The manifest's
// repository, when set, overrides the daemon configuration so a
// project can steer its releases; credentials always come from the
// daemon side. Returns nil when neither names a repository.
func newIndexTarget(ctx context.Context, name string, idx config.IndexConfig, override string) (registry.Target, error) {
	repository := idx.Repository
	if override != "" {
		repository = override
	}
	if repository == "" {
		return nil, nil
	}

	ocfg := registry.OCIConfig{
		Name:       name,
		Repository: repository,
		PlainHTTP:  idx.PlainHTTP,
	}

	// No credentials configured publishes anonymously, which local
	// plain-HTTP registries accept.
	if idx.TokenURL != "" || idx.Token.IsSet() {
		ts, err := registry.NewTokenSource(ctx, registry.TokenConfig{
			TokenURL:     idx.TokenURL,
			ClientID:     idx.ClientID,
			ClientSecret: idx.ClientSecret,
			Scopes:       idx.Scopes,
			Token:        idx.Token,
		})
		if err != nil {
			return nil, fmt.Errorf("%s index credentials: %w", name, err)
		}
		ocfg.Credential = registry.TokenCredential(ts)
	}

	target, err := registry.NewOCITarget(ocfg)
	if err != nil {
		return nil, fmt.Errorf("%s index: %w", name, err)
	}
	return target, nil
}
