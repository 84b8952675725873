// Package manifest loads the per-project release manifest. The
// manifest is committed to the repository being shipped and describes
// what to test, build, and publish; operator-side settings (endpoints,
// credentials) live in the daemon configuration instead.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Filename is the manifest file looked up at the repository root.
const Filename = "ship.toml"

// ErrNotFound indicates the repository has no manifest.
var ErrNotFound = errors.New("manifest not found")

// Manifest describes one project's release pipeline inputs.
type Manifest struct {
	Package  PackageConfig  `toml:"package"`
	Test     TestConfig     `toml:"test"`
	Build    BuildConfig    `toml:"build"`
	Docs     DocsConfig     `toml:"docs"`
	Registry RegistryConfig `toml:"registry"`
}

// PackageConfig identifies the project.
type PackageConfig struct {
	// Name is the distribution name used for artifact and registry
	// paths.
	Name string `toml:"name"`

	// DefaultBranch is the branch dev promotions track.
	DefaultBranch string `toml:"default_branch"`
}

// TestConfig configures the test gate.
type TestConfig struct {
	// Command is the full test command line, run through the shell
	// from the repository root. Exit status is the only contract:
	// zero passes the gate, anything else fails it.
	Command string `toml:"command"`
}

// BuildConfig configures the distribution build.
type BuildConfig struct {
	// Command is the full build command line.
	Command string `toml:"command"`

	// OutputDir is the directory (relative to the repository root)
	// the build writes distributable files into.
	OutputDir string `toml:"output_dir"`

	// RetentionDays is the retention hint stamped on untagged dev
	// artifacts.
	RetentionDays int `toml:"retention_days"`
}

// DocsConfig configures documentation deployments.
type DocsConfig struct {
	// SourceDir is the built documentation site directory.
	SourceDir string `toml:"source_dir"`

	// Title is the site title recorded in the docs version manifest.
	Title string `toml:"title"`
}

// RegistryConfig names the publish repositories within the configured
// registries.
type RegistryConfig struct {
	// StableRepository receives stable releases.
	StableRepository string `toml:"stable_repository"`

	// TestRepository receives prereleases.
	TestRepository string `toml:"test_repository"`
}

// Load reads the manifest from dir under its conventional name. A
// missing file returns ErrNotFound; invalid TOML or failed validation
// return descriptive errors.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, Filename))
}

// LoadFile reads the manifest at path, for deployments that rename it.
func LoadFile(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}

	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Package.DefaultBranch == "" {
		m.Package.DefaultBranch = "main"
	}
	if m.Build.RetentionDays == 0 {
		m.Build.RetentionDays = 14
	}
	if m.Docs.Title == "" {
		m.Docs.Title = m.Package.Name
	}
}

// Validate checks the manifest for required fields.
func (m *Manifest) Validate() error {
	if m.Package.Name == "" {
		return errors.New("package.name is required")
	}
	if m.Test.Command == "" {
		return errors.New("test.command is required")
	}
	if m.Build.Command == "" {
		return errors.New("build.command is required")
	}
	if m.Build.OutputDir == "" {
		return errors.New("build.output_dir is required")
	}
	if m.Build.RetentionDays < 0 {
		return fmt.Errorf("build.retention_days must not be negative, got %d", m.Build.RetentionDays)
	}
	return nil
}
