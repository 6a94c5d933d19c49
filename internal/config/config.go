// Copyright 2026 DoorCache Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config locates, loads and validates doorcache settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"doorcache/internal/artifacts"
	"doorcache/internal/cache"
)

// getConfigDir returns the config directory path.
// Uses DOORCACHE_CONFIG_DIR env var if set, otherwise defaults to ~/.doorcache.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("DOORCACHE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".doorcache")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the settings file path
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir creates the config directory and writes the default
// settings file if none exists yet.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path := SettingsPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// ClassSettings configures one TTL class.
type ClassSettings struct {
	TTL      int      `yaml:"ttl"`      // seconds, must be shorter than default_ttl
	Patterns []string `yaml:"patterns"` // key globs belonging to the class
}

// Settings represents the settings file
type Settings struct {
	Enabled       bool                     `yaml:"enabled"`
	Directory     string                   `yaml:"directory"`
	DefaultTTL    int                      `yaml:"default_ttl"`     // seconds
	LockTimeoutMS int                      `yaml:"lock_timeout_ms"` // per-call lock wait bound
	SweepInterval int                      `yaml:"sweep_interval"`  // seconds, 0 = lazy expiry only
	LogLevel      string                   `yaml:"log_level"`       // trace, debug, info, warn, off
	Classes       map[string]ClassSettings `yaml:"classes"`
}

// loadDefaultSettings parses default settings from embedded artifact.
func loadDefaultSettings() Settings {
	var settings Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded settings: " + err.Error())
	}
	return settings
}

// Defaults returns the embedded default settings.
func Defaults() *Settings {
	s := loadDefaultSettings()
	return &s
}

// LoadSettings loads settings from the config directory, falling back to the
// embedded defaults when the file does not exist. Environment overrides are
// applied and the result is validated.
func LoadSettings() (*Settings, error) {
	return LoadSettingsFromPath(SettingsPath())
}

// LoadSettingsFromPath is LoadSettings for an explicit file.
func LoadSettingsFromPath(path string) (*Settings, error) {
	settings := loadDefaultSettings()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Fields absent from the file keep their defaults, except classes,
		// which the file replaces wholesale when present.
		var probe struct {
			Classes *map[string]ClassSettings `yaml:"classes"`
		}
		if err := yaml.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if probe.Classes != nil {
			settings.Classes = nil
		}
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}
	if err := settings.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &settings, nil
}

// SaveSettings writes settings to the config directory.
func SaveSettings(settings *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	header := []byte("# doorcache settings\n# See: doorcache config --help\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0600)
}

// ApplyEnv applies the CACHE_DIR, CACHE_TTL and CACHE_ENABLED overrides used
// by the web deployment.
func (s *Settings) ApplyEnv() error {
	if dir := os.Getenv("CACHE_DIR"); dir != "" {
		s.Directory = dir
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CACHE_TTL: %w", err)
		}
		s.DefaultTTL = ttl
	}
	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		s.Enabled = strings.ToLower(v) == "true"
	}
	return nil
}

// Validate checks TTLs and timeouts.
func (s *Settings) Validate() error {
	if s.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive, got %d", s.DefaultTTL)
	}
	if s.LockTimeoutMS < 0 {
		return fmt.Errorf("lock_timeout_ms must not be negative, got %d", s.LockTimeoutMS)
	}
	if s.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must not be negative, got %d", s.SweepInterval)
	}
	if s.Enabled && s.Directory == "" {
		return fmt.Errorf("directory is required when the cache is enabled")
	}
	for name, cl := range s.Classes {
		if cl.TTL <= 0 || cl.TTL >= s.DefaultTTL {
			return fmt.Errorf("class %q: ttl %d must be positive and shorter than default_ttl %d", name, cl.TTL, s.DefaultTTL)
		}
	}
	return nil
}

// CacheConfig converts settings into the cache's configuration. Classes are
// ordered by name so pattern precedence is stable.
func (s *Settings) CacheConfig() cache.Config {
	names := make([]string, 0, len(s.Classes))
	for name := range s.Classes {
		names = append(names, name)
	}
	sort.Strings(names)

	classes := make([]cache.Class, 0, len(names))
	for _, name := range names {
		cl := s.Classes[name]
		classes = append(classes, cache.Class{
			Name:     name,
			TTL:      time.Duration(cl.TTL) * time.Second,
			Patterns: cl.Patterns,
		})
	}
	return cache.Config{
		Enabled:       s.Enabled,
		Directory:     s.Directory,
		DefaultTTL:    time.Duration(s.DefaultTTL) * time.Second,
		LockTimeout:   time.Duration(s.LockTimeoutMS) * time.Millisecond,
		SweepInterval: time.Duration(s.SweepInterval) * time.Second,
		Classes:       classes,
	}
}
