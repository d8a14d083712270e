package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// LastServersKey is the persisted-state key caching the most recently
// successful server IPs, newest first, comma separated.
const LastServersKey = "StylyNetSync.LastServerIPs"

// maxCachedServers bounds the last-known list.
const maxCachedServers = 5

// Cache stores the last known good server addresses so the scan strategy
// can probe them before sweeping the subnet.
type Cache interface {
	Load() []string
	Store(addr string)
}

// FileCache persists the last-known list as JSON under the user config
// directory, following the same defaults-on-any-error discipline as
// internal/config.
type FileCache struct {
	path string
}

// NewFileCache creates a cache at the default location. path resolution
// errors leave the cache inert (Load returns nil, Store is a no-op).
func NewFileCache() *FileCache {
	dir, err := os.UserConfigDir()
	if err != nil {
		return &FileCache{}
	}
	return &FileCache{path: filepath.Join(dir, "styly-netsync", "discovery.json")}
}

// NewFileCacheAt creates a cache backed by an explicit file path.
func NewFileCacheAt(path string) *FileCache { return &FileCache{path: path} }

// Load returns the cached addresses, newest first, or nil.
func (c *FileCache) Load() []string {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}
	var state map[string]string
	if err := json.Unmarshal(data, &state); err != nil {
		return nil
	}
	raw := state[LastServersKey]
	if raw == "" {
		return nil
	}
	var addrs []string
	for _, a := range strings.Split(raw, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// Store promotes addr to the front of the cached list and persists it.
func (c *FileCache) Store(addr string) {
	if c.path == "" || addr == "" {
		return
	}
	addrs := []string{addr}
	for _, a := range c.Load() {
		if a != addr && len(addrs) < maxCachedServers {
			addrs = append(addrs, a)
		}
	}
	state := map[string]string{LastServersKey: strings.Join(addrs, ",")}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return
	}
	_ = os.WriteFile(c.path, data, 0o600)
}
