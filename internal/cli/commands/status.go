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
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"doorcache/internal/cache"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache status and statistics",
	Long: `Show whether caching is enabled, the cache directory, entry count and size,
and hit/miss/set/invalidation/error counters.

Counters are reported twice. "process" counts only this command's own work and
is therefore almost always zero. "shared" aggregates every worker process that
has flushed its counters (workers flush on sweep and on shutdown).

Examples:
  doorcache status
  doorcache status --json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	st := c.Stats()
	if err := c.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to flush counters: %v\n", err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printStatus(out, st)
	return nil
}

func printStatus(w io.Writer, st cache.Status) {
	fmt.Fprintf(w, "Enabled: %v\n", st.Enabled)
	fmt.Fprintf(w, "Cache dir: %s\n", st.CacheDir)
	fmt.Fprintf(w, "Entries: %d (%d bytes, %s MB)\n", st.FileCount, st.TotalSizeBytes, st.CacheSizeMB)
	if st.Shared != nil {
		printCounters(w, "Shared (all workers)", *st.Shared)
	} else {
		fmt.Fprintln(w, "Shared (all workers): unavailable")
	}
	printCounters(w, fmt.Sprintf("Process (pid %d)", st.PID), st.Process)
}

func printCounters(w io.Writer, label string, c cache.Counters) {
	fmt.Fprintf(w, "%s:\n", label)
	fmt.Fprintf(w, "  Requests:      %d\n", c.Requests())
	fmt.Fprintf(w, "  Hits:          %d\n", c.Hits)
	fmt.Fprintf(w, "  Misses:        %d\n", c.Misses)
	fmt.Fprintf(w, "  Hit rate:      %s\n", c.HitRatePercent())
	fmt.Fprintf(w, "  Sets:          %d\n", c.Sets)
	fmt.Fprintf(w, "  Invalidations: %d\n", c.Invalidations)
	fmt.Fprintf(w, "  Errors:        %d\n", c.Errors)
}
