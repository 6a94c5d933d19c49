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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"doorcache/internal/keys"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a cached value",
	Long: `Print the cached JSON payload for a key. Exits with an error if the key is
absent, expired or unreadable.

Examples:
  doorcache get controller_425036451_cards_list
  doorcache get global_cards_aggregated --max-age 60`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var setCmd = &cobra.Command{
	Use:   "set <key> <json>",
	Short: "Store a JSON value",
	Long: `Store a JSON value under a key. Without --ttl the TTL comes from the key's
class (e.g. volatile status keys) or the default.

Examples:
  doorcache set controller_1_cards_list '["111","222"]'
  doorcache set controller_1_status '{"door1":"locked"}' --ttl 60`,
	Args: cobra.ExactArgs(2),
	RunE: runSet,
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate [key...]",
	Short: "Remove cached entries",
	Long: `Remove cached entries by exact key, by glob pattern, or by the set of keys an
origin mutation makes stale. Removing an absent key is not an error.

Mutations: add_card, update_card, delete_card, delete_global_card,
purge_abandoned_cards, set_door_delay, set_door_state, swipe, config_change.

Examples:
  doorcache invalidate controller_1_card_778899
  doorcache invalidate --pattern 'controller_425036451_*'
  doorcache invalidate --mutation add_card --controller 425036451 --card 778899`,
	RunE: runInvalidate,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached entry",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired entries and publish counters",
	Long: `Delete expired and unreadable entry files and orphaned temp files.

Expired entries are already treated as absent by readers; sweeping only
reclaims disk space.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

var (
	getMaxAge          int
	setTTL             int
	invalidatePattern  string
	invalidateMutation string
	invalidateCtrl     uint32
	invalidateCard     uint32
)

func init() {
	getCmd.Flags().IntVar(&getMaxAge, "max-age", 0, "Treat entries older than this many seconds as missing")
	setCmd.Flags().IntVar(&setTTL, "ttl", 0, "TTL in seconds (default: by key class)")
	invalidateCmd.Flags().StringVarP(&invalidatePattern, "pattern", "p", "", "Glob pattern ('*' matches any run of characters)")
	invalidateCmd.Flags().StringVarP(&invalidateMutation, "mutation", "m", "", "Invalidate every key affected by this mutation")
	invalidateCmd.Flags().Uint32Var(&invalidateCtrl, "controller", 0, "Controller serial number for --mutation")
	invalidateCmd.Flags().Uint32Var(&invalidateCard, "card", 0, "Card number for --mutation")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(sweepCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	defer c.Close()

	v, ok := c.GetFresh(args[0], time.Duration(getMaxAge)*time.Second)
	if !ok {
		return fmt.Errorf("%s: not cached", args[0])
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	var v any
	if err := json.Unmarshal([]byte(args[1]), &v); err != nil {
		return fmt.Errorf("value is not valid JSON: %w", err)
	}

	c, err := openCache()
	if err != nil {
		return err
	}
	defer c.Close()

	ttl := c.Policy().TTLFor(args[0], time.Duration(setTTL)*time.Second)
	if !c.Set(args[0], v, ttl) {
		return fmt.Errorf("%s: not stored (see logs with --log-level debug)", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (TTL %v)\n", args[0], ttl)
	return nil
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	modes := 0
	if len(args) > 0 {
		modes++
	}
	if invalidatePattern != "" {
		modes++
	}
	if invalidateMutation != "" {
		modes++
	}
	if modes != 1 {
		return errors.New("give keys, --pattern or --mutation (exactly one)")
	}

	var m keys.Mutation
	if invalidateMutation != "" {
		op, err := keys.ParseOp(invalidateMutation)
		if err != nil {
			return err
		}
		m = keys.Mutation{Op: op, Controller: invalidateCtrl, Card: invalidateCard}
	}

	c, err := openCache()
	if err != nil {
		return err
	}
	defer c.Close()

	var n int
	switch {
	case invalidatePattern != "":
		n = c.InvalidatePattern(invalidatePattern)
	case invalidateMutation != "":
		n = c.InvalidateFor(m)
	default:
		n = c.InvalidateKeys(args...)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", n)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", c.ClearAll())
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries\n", c.Sweep())
	return nil
}
