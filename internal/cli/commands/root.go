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

package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"doorcache/internal/cache"
	"doorcache/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configDirFlag string
	logLevelFlag  string
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		// Dev build: include epoch and commit for troubleshooting
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

var rootCmd = &cobra.Command{
	Use:   "doorcache",
	Short: "Inspect and manage the door controller response cache",
	Long: `Inspect and manage the on-disk cache that shields the web front end from the
door controller API. Every web worker process shares the same cache directory;
these commands operate on it directly and are safe to run while workers serve
requests.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configDirFlag != "" {
			if err := os.Setenv("DOORCACHE_CONFIG_DIR", configDirFlag); err != nil {
				return err
			}
		}
		level := logLevelFlag
		if level == "" {
			if settings, err := config.LoadSettings(); err == nil {
				level = settings.LogLevel
			}
		}
		config.ConfigureLogging(level, cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("doorcache version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configDirFlag, "config-dir", "", "Config directory (default ~/.doorcache, or $DOORCACHE_CONFIG_DIR)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn, off (default from settings)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// openCache builds a cache from the current settings. Callers must Close it
// so this process's counters reach the shared stats file.
func openCache() (*cache.Cache, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	cfg := settings.CacheConfig()
	// One-shot commands never run the janitor.
	cfg.SweepInterval = 0
	return cache.New(cfg), nil
}
