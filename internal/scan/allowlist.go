package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// AllowlistFile is the committed per-project allowlist, next to
// ship.toml in the repository root.
const AllowlistFile = ".shipscan.toml"

// Allowlist narrows the secret sweep. Paths are regexes over
// slash-separated paths relative to the scanned directory; Regexes
// match the secret text itself.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlist reads dir's allowlist. A missing file is an empty
// allowlist; an unreadable or invalid one is an error, since silently
// scanning with the wrong allowlist either blocks releases or leaks.
func LoadAllowlist(dir string) (*Allowlist, error) {
	path := filepath.Join(dir, AllowlistFile)

	var config struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}
	if _, err := toml.DecodeFile(path, &config); err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for _, pattern := range config.Allowlist.Paths {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("invalid path pattern %q in %s: %w", pattern, path, err)
		}
	}
	for _, pattern := range config.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("invalid content pattern %q in %s: %w", pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:   config.Allowlist.Paths,
		Regexes: config.Allowlist.Regexes,
	}, nil
}
