package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeRecognition()
	c.normalizeProfiles()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Recognition.TemplatesPath) != "" {
		if c.Recognition.TemplatesPath, err = expandPath(c.Recognition.TemplatesPath); err != nil {
			return fmt.Errorf("recognition.templates_path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

func (c *Config) normalizeRecognition() {
	c.Recognition.Membership = strings.ToLower(strings.TrimSpace(c.Recognition.Membership))
	if c.Recognition.Membership == "" {
		c.Recognition.Membership = defaultMembership
	}
}

func (c *Config) normalizeProfiles() {
	c.Profiles.Weighting = strings.ToLower(strings.TrimSpace(c.Profiles.Weighting))
	if c.Profiles.Weighting == "" {
		c.Profiles.Weighting = defaultWeighting
	}
	props := make([]string, 0, len(c.Profiles.Properties))
	for _, p := range c.Profiles.Properties {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			props = append(props, p)
		}
	}
	c.Profiles.Properties = props
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return filepath.Clean(path), nil
}
