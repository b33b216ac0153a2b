package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/taskcache/internal/model"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "taskcache",
	Short: "Tiered local cache and incremental sync for tracker work items",
	Long: `taskcache keeps a local, tiered cache of the work items a tracker such as
Jira holds for you, and refreshes it incrementally.

Three tiers are kept: a small metadata record (last sync time and the
values available for filtering), a compressed grouped view for fast
display, and the full item list from which the view can be rebuilt
under different filters.

Example usage:
  taskcache sync                     # fetch changes since the last sync
  taskcache show --tag backend       # regroup cached items by tag
  taskcache status                   # inspect what each tier holds
  taskcache watch                    # sync periodically until Ctrl+C`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Also write logs to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
