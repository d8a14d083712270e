// Package identity bootstraps the stable per-installation device id. A
// generated id is persisted on first run so the same device presents the
// same identity across sessions even when the host application supplies
// none.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxDeviceIdBytes bounds a device id on the wire.
const MaxDeviceIdBytes = 255

type persisted struct {
	DeviceId string `json:"device_id"`
}

// DefaultPath returns where the device id is persisted.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "styly-netsync", "identity.json"), nil
}

// Load returns the persisted device id at path, generating and persisting
// a fresh UUID when none exists yet. An empty path uses DefaultPath. A
// persisted id that fails validation is replaced rather than returned.
func Load(path string) (string, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return "", fmt.Errorf("identity: resolve path: %w", err)
		}
		path = p
	}

	if data, err := os.ReadFile(path); err == nil {
		var p persisted
		if json.Unmarshal(data, &p) == nil && Validate(p.DeviceId) == nil {
			return p.DeviceId, nil
		}
	}

	id := uuid.New().String()
	if err := save(path, id); err != nil {
		return "", err
	}
	return id, nil
}

func save(path, id string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(persisted{DeviceId: id}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate enforces the device id bounds: non-empty, valid UTF-8, at most
// MaxDeviceIdBytes bytes.
func Validate(deviceId string) error {
	if deviceId == "" {
		return fmt.Errorf("identity: device id is empty")
	}
	if len(deviceId) > MaxDeviceIdBytes {
		return fmt.Errorf("identity: device id exceeds %d bytes", MaxDeviceIdBytes)
	}
	if !utf8.ValidString(deviceId) {
		return fmt.Errorf("identity: device id is not valid UTF-8")
	}
	return nil
}
