// Package credentials loads upstream API keys and distributes them across
// concurrent runs with per-provider round-robin pools.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when credentials file has overly permissive permissions.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Credentials holds API keys loaded from credentials.toml.
// Uses a generic map to support any provider without hardcoding.
type Credentials struct {
	providers map[string][]string
}

// ProviderCreds holds credentials for a single provider.
type ProviderCreds struct {
	APIKey  string   `toml:"api_key"`
	APIKeys []string `toml:"api_keys"`
}

// StandardPaths returns the standard credential file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"credentials.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "browserbridge", "credentials.toml"))
		paths = append(paths, filepath.Join(home, ".browserbridge", "credentials.toml"))
	}

	return paths
}

// Load loads credentials from the first available standard location.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil // No credentials file found (not an error)
}

// LoadFile loads credentials from a specific file.
// Returns ErrInsecurePermissions if file is readable by group or others.
func LoadFile(path string) (*Credentials, error) {
	// Check file permissions (Unix only)
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		mode := info.Mode().Perm()
		// Credentials must be 0400 (owner read-only)
		if mode != 0400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	// Decode into a generic map so any provider section is picked up
	var rawData map[string]interface{}
	if _, err := toml.DecodeFile(path, &rawData); err != nil {
		return nil, err
	}

	creds := &Credentials{
		providers: make(map[string][]string),
	}

	for provider, value := range rawData {
		section, ok := value.(map[string]interface{})
		if !ok {
			continue
		}

		var keys []string
		if multi, ok := section["api_keys"].([]interface{}); ok {
			for _, k := range multi {
				if s, ok := k.(string); ok && s != "" {
					keys = append(keys, s)
				}
			}
		}
		if len(keys) == 0 {
			if single, ok := section["api_key"].(string); ok && single != "" {
				keys = []string{single}
			}
		}
		if len(keys) == 0 {
			continue
		}

		normalized := strings.ToLower(strings.ReplaceAll(provider, "-", ""))
		creds.providers[normalized] = keys
	}

	return creds, nil
}

// Keys returns the configured keys for a provider, or nil.
func (c *Credentials) Keys(provider string) []string {
	if c == nil {
		return nil
	}
	normalized := strings.ToLower(strings.ReplaceAll(provider, "-", ""))
	return c.providers[normalized]
}

// multiKeyEnvVar returns the comma-separated multi-key environment variable
// name for a provider: PROVIDER_API_KEYS.
func multiKeyEnvVar(provider string) string {
	return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEYS"
}

// singleKeyEnvVar returns the legacy single-key environment variable name for
// a provider: PROVIDER_API_KEY.
func singleKeyEnvVar(provider string) string {
	return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
}
