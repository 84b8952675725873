package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "SHIPD_"
	maxConfigFileSize = 1 << 20
)

// Load loads configuration from a YAML file and the environment.
//
// Precedence, highest first:
//  1. SHIPD_-prefixed environment variables (SHIPD_SERVER_LISTEN_ADDR,
//     SHIPD_REGISTRY_STABLE_TOKEN, ...)
//  2. The YAML config file
//  3. Defaults from Default()
//
// path names the config file to load. If empty, the first of
// ~/.config/shipd/config.yaml and /etc/shipd/config.yaml that exists is
// used; if neither exists the file layer is skipped. An explicit path
// that cannot be read is an error.
//
// The config file carries the webhook secret and registry credentials,
// so it must not be readable by group or others. Files larger than 1MB
// are rejected.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = defaultConfigPath()
	}
	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyToPath), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	// Unmarshal on top of the defaults so absent keys keep them.
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// defaultConfigPath returns the first default config file that exists,
// or "" when none does. The per-user file wins over the system one.
func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "shipd", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	const system = "/etc/shipd/config.yaml"
	if _, err := os.Stat(system); err == nil {
		return system
	}
	return ""
}

// readConfigFile opens the file once and validates permissions and size
// through the open descriptor to avoid a stat/open race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return nil, fmt.Errorf("config file %s has permissions %04o, want owner-only (0600)", path, perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s too large: %d bytes (max %d)", path, info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return content, nil
}

// envKeyToPath maps a SHIPD_ environment variable name to a koanf dot
// path. The first underscore separates the section from the field;
// underscores inside field names are kept:
//
//	SHIPD_SERVER_LISTEN_ADDR          -> server.listen_addr
//	SHIPD_DISPATCH_TEMPORAL_HOST_PORT -> dispatch.temporal_host_port
//
// The registry section nests one level deeper, one sub-section per
// index:
//
//	SHIPD_REGISTRY_STABLE_TOKEN_URL -> registry.stable.token_url
func envKeyToPath(key string) string {
	lower := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	section, field := parts[0], parts[1]

	if section == "registry" {
		sub := strings.SplitN(field, "_", 2)
		if len(sub) == 2 {
			return section + "." + sub[0] + "." + sub[1]
		}
	}
	return section + "." + field
}
