// Package config manages persistent settings for the NetSync client.
// Settings are stored as JSON at os.UserConfigDir()/styly-netsync/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds every recognized option. An empty ServerAddress
// enables discovery.
type Config struct {
	ServerAddress string `json:"server_address"`
	DealerPort    int    `json:"dealer_port"`
	SubPort       int    `json:"sub_port"`
	RoomId        string `json:"room_id"`

	SendRate float64 `json:"send_rate"` // local transform cadence, Hz

	EnableDiscovery         bool    `json:"enable_discovery"`
	BeaconPort              int     `json:"beacon_port"`
	DiscoveryTimeoutSeconds float64 `json:"discovery_timeout_seconds"`

	ReconnectDelaySeconds float64 `json:"reconnect_delay_seconds"`

	RPCLimitCount         int     `json:"rpc_limit_count"` // <=0 disables the rate limit
	RPCLimitWindowSeconds float64 `json:"rpc_limit_window_seconds"`
	RPCPendingMax         int     `json:"rpc_pending_max"`
	RPCTtlSeconds         float64 `json:"rpc_ttl_seconds"`
	RPCFlushPerFrame      int     `json:"rpc_flush_per_frame"`

	NVDebounceMs int `json:"nv_debounce_ms"`

	HeartbeatIntervalSeconds float64 `json:"heartbeat_interval_seconds"`
}

// Default returns a Config populated with the documented defaults.
func Default() Config {
	return Config{
		ServerAddress:            "localhost",
		DealerPort:               5555,
		SubPort:                  5556,
		RoomId:                   "default_room",
		SendRate:                 10,
		EnableDiscovery:          true,
		BeaconPort:               9999,
		DiscoveryTimeoutSeconds:  5,
		ReconnectDelaySeconds:    10,
		RPCLimitCount:            30,
		RPCLimitWindowSeconds:    1,
		RPCPendingMax:            100,
		RPCTtlSeconds:            5,
		RPCFlushPerFrame:         10,
		NVDebounceMs:             100,
		HeartbeatIntervalSeconds: 1,
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "styly-netsync", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	return LoadFrom(path)
}

// LoadFrom reads a config file at an explicit path, with the same
// defaults-on-any-error behavior as Load.
func LoadFrom(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes cfg to an explicit path.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
