// Package scan runs a secret sweep over build output before anything
// leaves the machine. Detection is gitleaks' default ruleset; projects
// can narrow it with a committed allowlist.
package scan

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"
)

// defaultMaxFileSize caps how much of a single file is scanned.
// Archives and other large blobs are skipped, not sampled.
const defaultMaxFileSize = 1 << 20

// Finding is one potential secret. The matched text itself is never
// carried, only where to look.
type Finding struct {
	File        string `json:"file"`
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// Option configures the Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// WithAllowlist applies an allowlist before the detector is built.
func WithAllowlist(a *Allowlist) Option {
	return func(s *Scanner) {
		s.allowlist = a
	}
}

// WithMaxFileSize overrides the per-file scan cap.
func WithMaxFileSize(n int64) Option {
	return func(s *Scanner) {
		s.maxFileSize = n
	}
}

// Scanner sweeps directories for secrets.
type Scanner struct {
	detector    *detect.Detector
	allowlist   *Allowlist
	skipPaths   []*regexp.Regexp
	maxFileSize int64
	logger      *zap.Logger
}

// NewScanner creates a scanner with the default gitleaks ruleset.
func NewScanner(opts ...Option) (*Scanner, error) {
	s := &Scanner{
		maxFileSize: defaultMaxFileSize,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("building detector: %w", err)
	}
	if s.allowlist != nil {
		if err := s.applyAllowlist(&detector.Config); err != nil {
			return nil, err
		}
	}
	s.detector = detector
	return s, nil
}

// applyAllowlist merges the project allowlist into the detector
// config. Path patterns are kept aside and filter the walk instead,
// since the scanner feeds the detector file contents, not paths.
func (s *Scanner) applyAllowlist(cfg *gitleaksConfig.Config) error {
	for _, pattern := range s.allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid allowlist path pattern %q: %w", pattern, err)
		}
		s.skipPaths = append(s.skipPaths, re)
	}

	if len(s.allowlist.Regexes) == 0 {
		return nil
	}
	global := &gitleaksConfig.Allowlist{Description: "shipd project allowlist"}
	for _, pattern := range s.allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid allowlist content pattern %q: %w", pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}

// ScanDir walks dir and returns every finding under it. Paths in
// findings are relative to dir.
func (s *Scanner) ScanDir(ctx context.Context, dir string) ([]Finding, error) {
	var findings []Finding

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if s.skipPath(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > s.maxFileSize {
			s.logger.Debug("skipping oversized file",
				zap.String("file", rel),
				zap.Int64("size", info.Size()))
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if isBinary(data) {
			return nil
		}

		for _, f := range s.detector.DetectString(string(data)) {
			findings = append(findings, Finding{
				File:        rel,
				RuleID:      f.RuleID,
				Description: f.Description,
				Line:        f.StartLine,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	if len(findings) > 0 {
		s.logger.Warn("secret scan found matches",
			zap.String("dir", dir),
			zap.Int("findings", len(findings)))
	}
	return findings, nil
}

func (s *Scanner) skipPath(rel string) bool {
	for _, re := range s.skipPaths {
		if re.MatchString(rel) {
			return true
		}
	}
	return false
}

// isBinary mirrors git's heuristic: a NUL in the first chunk means
// not text.
func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	return bytes.IndexByte(probe, 0x00) >= 0
}
