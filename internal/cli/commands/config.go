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

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"doorcache/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage doorcache settings",
	Long: `Manage the settings file (settings.yaml in the config directory).

Environment variables CACHE_DIR, CACHE_TTL and CACHE_ENABLED override the file.

Subcommands:
  init   Write the default settings file if none exists
  show   Print the effective settings`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default settings file if none exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfigDir(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Settings: %s\n", config.SettingsPath())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.LoadSettings()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(settings)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", config.SettingsPath(), out)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
