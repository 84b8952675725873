package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/fyrsmithlabs/shipd/internal/build"
)

const (
	// artifactType identifies shipd distribution manifests.
	artifactType = "application/vnd.fyrsmith.shipd.dist.v1"

	// layerMediaType is the media type of the archived distribution.
	layerMediaType = "application/vnd.fyrsmith.shipd.dist.layer.v1.tar+gzip"
)

// OCIConfig configures one OCI-backed package index.
type OCIConfig struct {
	// Name is the display name, e.g. "stable" or "test".
	Name string

	// Repository is the repository path without a tag, e.g.
	// "registry.example.com/widget/releases".
	Repository string

	// PlainHTTP connects without TLS, for local registries in tests
	// and development.
	PlainHTTP bool

	// Credential supplies registry credentials. Nil publishes
	// anonymously.
	Credential auth.CredentialFunc
}

// OCITarget publishes artifacts to an OCI registry. Each version
// becomes an OCI 1.1 artifact manifest tagging a single tar.gz layer.
type OCITarget struct {
	cfg  OCIConfig
	repo *remote.Repository
}

// NewOCITarget creates a target for the configured repository.
func NewOCITarget(cfg OCIConfig) (*OCITarget, error) {
	if cfg.Name == "" {
		return nil, errors.New("target name is required")
	}
	if cfg.Repository == "" {
		return nil, errors.New("repository is required")
	}

	repo, err := remote.NewRepository(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("invalid repository %q: %w", cfg.Repository, err)
	}
	repo.PlainHTTP = cfg.PlainHTTP

	client := &auth.Client{Cache: auth.NewCache()}
	if cfg.Credential != nil {
		client.Credential = cfg.Credential
	}
	repo.Client = client

	return &OCITarget{cfg: cfg, repo: repo}, nil
}

// Name implements Target.
func (t *OCITarget) Name() string { return t.cfg.Name }

// Exists implements Target.
func (t *OCITarget) Exists(ctx context.Context, version string) (bool, error) {
	_, err := t.repo.Resolve(ctx, version)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errdef.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("resolving %s:%s: %w", t.cfg.Repository, version, err)
	}
}

// Publish implements Target. The upload happens in three steps: push
// the archive blob, pack an artifact manifest around it, then tag the
// manifest with the version. The duplicate check runs first so a
// taken version fails before any bytes move.
func (t *OCITarget) Publish(ctx context.Context, artifact *build.Artifact) error {
	exists, err := t.Exists(ctx, artifact.Version)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s on %s", ErrVersionExists, artifact.Version, t.cfg.Name)
	}

	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		return fmt.Errorf("reading artifact %s: %w", artifact.Path, err)
	}

	blobDesc, err := oras.PushBytes(ctx, t.repo, layerMediaType, data)
	if err != nil {
		return fmt.Errorf("pushing blob to %s: %w", t.cfg.Repository, err)
	}
	if artifact.Digest != "" && blobDesc.Digest != artifact.Digest {
		return fmt.Errorf("digest mismatch for %s: built %s, pushed %s",
			artifact.Reference(), artifact.Digest, blobDesc.Digest)
	}

	annotations := map[string]string{
		ocispec.AnnotationTitle:   artifact.Name,
		ocispec.AnnotationVersion: artifact.Version,
		ocispec.AnnotationCreated: artifact.BuiltAt.UTC().Format(time.RFC3339),
	}
	if artifact.CommitSHA != "" {
		annotations[ocispec.AnnotationRevision] = artifact.CommitSHA
	}

	manifestDesc, err := oras.PackManifest(ctx, t.repo, oras.PackManifestVersion1_1, artifactType,
		oras.PackManifestOptions{
			Layers:              []ocispec.Descriptor{blobDesc},
			ManifestAnnotations: annotations,
		})
	if err != nil {
		return fmt.Errorf("packing manifest for %s: %w", artifact.Reference(), err)
	}

	if _, err := oras.Tag(ctx, t.repo, manifestDesc.Digest.String(), artifact.Version); err != nil {
		return fmt.Errorf("tagging %s:%s: %w", t.cfg.Repository, artifact.Version, err)
	}

	return nil
}
