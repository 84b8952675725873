package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, Filename), []byte(content), 0o644))
	return dir
}

func TestLoad_FullManifest(t *testing.T) {
	dir := writeManifest(t, `
[package]
name = "widget"
default_branch = "trunk"

[test]
command = "make test"

[build]
command = "make dist"
output_dir = "dist"
retention_days = 30

[docs]
source_dir = "site"
title = "Widget Docs"

[registry]
stable_repository = "registry.example.com/widget/releases"
test_repository = "registry.example.com/widget/staging"
`)

	m, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "widget", m.Package.Name)
	assert.Equal(t, "trunk", m.Package.DefaultBranch)
	assert.Equal(t, "make test", m.Test.Command)
	assert.Equal(t, "dist", m.Build.OutputDir)
	assert.Equal(t, 30, m.Build.RetentionDays)
	assert.Equal(t, "Widget Docs", m.Docs.Title)
	assert.Equal(t, "registry.example.com/widget/staging", m.Registry.TestRepository)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := writeManifest(t, `
[package]
name = "widget"

[test]
command = "make test"

[build]
command = "make dist"
output_dir = "dist"
`)

	m, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "main", m.Package.DefaultBranch)
	assert.Equal(t, 14, m.Build.RetentionDays)
	assert.Equal(t, "widget", m.Docs.Title, "docs title falls back to package name")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := writeManifest(t, `[package`)
	_, err := Load(dir)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Manifest)
		wantPart string
	}{
		{
			name:     "missing package name",
			mutate:   func(m *Manifest) { m.Package.Name = "" },
			wantPart: "package.name",
		},
		{
			name:     "missing test command",
			mutate:   func(m *Manifest) { m.Test.Command = "" },
			wantPart: "test.command",
		},
		{
			name:     "missing build command",
			mutate:   func(m *Manifest) { m.Build.Command = "" },
			wantPart: "build.command",
		},
		{
			name:     "missing output dir",
			mutate:   func(m *Manifest) { m.Build.OutputDir = "" },
			wantPart: "build.output_dir",
		},
		{
			name:     "negative retention",
			mutate:   func(m *Manifest) { m.Build.RetentionDays = -1 },
			wantPart: "retention_days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{
				Package: PackageConfig{Name: "widget", DefaultBranch: "main"},
				Test:    TestConfig{Command: "make test"},
				Build:   BuildConfig{Command: "make dist", OutputDir: "dist", RetentionDays: 14},
			}
			tt.mutate(m)

			err := m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantPart)
		})
	}
}
