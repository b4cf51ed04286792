package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const backupTimeFormat = "20060102-150405"

// SaveWithBackup persists the configuration as JSON to its instance path.
// When a previous config file exists it is copied into the backup directory
// first, so every mutation leaves a timestamped trail. The write itself goes
// through a temp file and rename.
func (c *AppConfig) SaveWithBackup() error {
	path := c.Instance.ConfigPath()

	if err := c.BackupCurrent(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating instance dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}

// BackupCurrent copies the on-disk config file, if any, into the backup
// directory with a timestamped name. Missing config files are not an error;
// there is nothing to protect yet.
func (c *AppConfig) BackupCurrent() error {
	path := c.Instance.ConfigPath()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading current config: %w", err)
	}

	backupDir := c.Instance.BackupDir()
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return fmt.Errorf("creating backup dir: %w", err)
	}

	name := fmt.Sprintf("config-%s.json", time.Now().Format(backupTimeFormat))
	if err := os.WriteFile(filepath.Join(backupDir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing config backup: %w", err)
	}
	return nil
}

// ApplyRemote overlays the scraper and EPG sections from a remotely fetched
// configuration. Secrets and local-only sections (auth, server, database,
// instance layout) are never replaced by remote documents.
func (c *AppConfig) ApplyRemote(remote *AppConfig) {
	c.Scraper = remote.Scraper
	c.EPGs = remote.EPGs
	c.Normalise()
}

// EqualSections reports whether the remotely replaceable sections of two
// configurations are identical. Used to detect no-op remote fetches.
func (c *AppConfig) EqualSections(other *AppConfig) bool {
	a, errA := json.Marshal(struct {
		S ScraperConfig
		E []EPGSourceConfig
	}{c.Scraper, c.EPGs})
	b, errB := json.Marshal(struct {
		S ScraperConfig
		E []EPGSourceConfig
	}{other.Scraper, other.EPGs})
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}
