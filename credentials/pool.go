package credentials

import (
	"os"
	"strings"
	"sync"
)

// Providers lists the upstream providers a pool is built for at startup.
var Providers = []string{"openai", "anthropic", "google", "azure", "bedrock", "ollama"}

// Pool round-robins a set of interchangeable keys for one provider.
// An empty pool is valid: Next reports no key and the caller constructs an
// unauthenticated client (local runtimes like ollama need none).
type Pool struct {
	provider string
	keys     []string

	mu     sync.Mutex
	cursor int
}

// NewPool creates a pool over a fixed key list.
func NewPool(provider string, keys []string) *Pool {
	return &Pool{provider: provider, keys: keys}
}

// LoadPool builds a pool for a provider from the environment, with an
// optional credentials file as the last fallback. Priority:
//
//  1. PROVIDER_API_KEYS (comma-separated)
//  2. PROVIDER_API_KEY (legacy single key)
//  3. [provider] section of credentials.toml
func LoadPool(provider string, creds *Credentials) *Pool {
	if multi := os.Getenv(multiKeyEnvVar(provider)); multi != "" {
		var keys []string
		for _, k := range strings.Split(multi, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			return NewPool(provider, keys)
		}
	}

	if single := os.Getenv(singleKeyEnvVar(provider)); single != "" {
		return NewPool(provider, []string{single})
	}

	return NewPool(provider, creds.Keys(provider))
}

// Provider returns the provider this pool serves.
func (p *Pool) Provider() string {
	return p.provider
}

// Next returns the key at the rotation cursor and advances the cursor.
// The second return is false when the pool is empty.
func (p *Pool) Next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", false
	}
	key := p.keys[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.keys)
	return key, true
}

// Len returns the number of configured keys.
func (p *Pool) Len() int {
	return len(p.keys)
}

// Manager holds one pool per supported provider.
type Manager struct {
	pools map[string]*Pool
}

// NewManager loads pools for every supported provider. A missing or invalid
// credentials file degrades to env-only loading.
func NewManager() *Manager {
	creds, _, _ := Load()
	return NewManagerWith(creds)
}

// NewManagerWith loads pools using an explicit credentials file result.
func NewManagerWith(creds *Credentials) *Manager {
	pools := make(map[string]*Pool, len(Providers))
	for _, provider := range Providers {
		pools[provider] = LoadPool(provider, creds)
	}
	return &Manager{pools: pools}
}

// NextKey returns the next key for a provider (case-insensitive).
// False when the provider is unknown or its pool is empty.
func (m *Manager) NextKey(provider string) (string, bool) {
	pool, ok := m.pools[strings.ToLower(provider)]
	if !ok {
		return "", false
	}
	return pool.Next()
}

// Pool returns the pool for a provider, or nil.
func (m *Manager) Pool(provider string) *Pool {
	return m.pools[strings.ToLower(provider)]
}
