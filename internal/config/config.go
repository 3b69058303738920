package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/marcus/playbill/internal/models"
)

const configFile = ".playbill/config.json"
const lockFile = ".playbill/config.json.lock"

// Default returns the configuration used when no config file exists.
// Signatures are required until the user explicitly opts into sandbox mode.
func Default() *models.Config {
	return &models.Config{RequireSignature: true}
}

// Load reads the config from disk
func Load(baseDir string) (*models.Config, error) {
	configPath := filepath.Join(baseDir, configFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	var cfg models.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the config to disk using atomic write (temp file + rename)
func Save(baseDir string, cfg *models.Config) error {
	configPath := filepath.Join(baseDir, configFile)

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: temp file in same dir, then rename
	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, configPath)
}

// withConfigLock serializes access to config.json using flock
func withConfigLock(baseDir string, fn func() error) error {
	lockPath := filepath.Join(baseDir, lockFile)

	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// Update applies fn to the config under the config lock and saves the result.
func Update(baseDir string, fn func(cfg *models.Config) error) error {
	return withConfigLock(baseDir, func() error {
		cfg, err := Load(baseDir)
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		return Save(baseDir, cfg)
	})
}

// EnsureDeviceID returns the stored device id, generating and persisting
// one on first use.
func EnsureDeviceID(baseDir string) (string, error) {
	var deviceID string
	err := Update(baseDir, func(cfg *models.Config) error {
		if cfg.DeviceID == "" {
			cfg.DeviceID = uuid.NewString()
		}
		deviceID = cfg.DeviceID
		return nil
	})
	if err != nil {
		return "", err
	}
	return deviceID, nil
}
