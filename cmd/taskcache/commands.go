package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/taskcache/internal/credential"
	"github.com/nhle/taskcache/internal/grouping"
	"github.com/nhle/taskcache/internal/model"
	"github.com/nhle/taskcache/internal/source"
	"github.com/nhle/taskcache/internal/sync"
	"github.com/nhle/taskcache/internal/theme"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch changes from the tracker and update the cache",
	Long: `Fetch work items and update every cache tier.

The first sync, or any sync after the cache was cleared, fetches every
item. Later syncs fetch only the items updated since the previous one
and merge them into the cached set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		result, err := a.orch.Sync(ctx)
		if err != nil {
			if source.IsAuthError(err) {
				return fmt.Errorf("%w\nrun 'taskcache configure' to update the token", err)
			}
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		renderResult(cmd.OutOrStdout(), result)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cache tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.orch.Clear(cmd.Context()); err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")

		if forget, _ := cmd.Flags().GetBool("forget-token"); forget {
			err := credential.Delete(credential.TokenKey(a.cfg.Source.Type))
			if err != nil && !credential.IsNotFound(err) {
				return fmt.Errorf("deleting token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stored token deleted.")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what each cache tier holds",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status := a.orch.Status(cmd.Context())
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), status)
		}
		renderStatus(cmd.OutOrStdout(), status)

		if check, _ := cmd.Flags().GetBool("check"); check {
			name, err := a.adapter.ValidateConnection(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", "connected as", name)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cached grouped view",
	Long: `Print the cached view grouped by assignee and project.

Without filter flags the stored view is printed as is. With any filter
flag the view is rebuilt from the cached items under the configured
filters overridden by the flags, and stored for next time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		var groups []grouping.Group

		if filters, changed := filtersFromFlags(cmd, a.orch.Filters()); changed {
			groups, err = a.orch.Reprocess(ctx, filters)
			if errors.Is(err, sync.ErrNoRawData) {
				return fmt.Errorf("%w, run 'taskcache sync' first", err)
			}
			if err != nil && groups == nil {
				return err
			}
			if err != nil {
				a.logger.Warn("storing rebuilt view failed", "error", err)
			}
		} else {
			snap, err := a.orch.LoadSnapshot(ctx)
			if err != nil {
				return err
			}
			if snap.Source == sync.SnapshotRecovery {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s showing data recovered from legacy key %q; run 'taskcache sync' to refresh\n",
					theme.WarningStyle.Render("note:"), snap.RecoveredKey)
			}
			groups = snap.Groups
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), groups)
		}
		renderGroups(cmd.OutOrStdout(), groups)
		return nil
	},
}

// filtersFromFlags overlays the filter flags the user set on base.
func filtersFromFlags(cmd *cobra.Command, base grouping.Filters) (grouping.Filters, bool) {
	flags := cmd.Flags()
	changed := false
	overlay := func(name string, dst *[]string) {
		if !flags.Changed(name) {
			return
		}
		values, _ := flags.GetStringSlice(name)
		*dst = values
		changed = true
	}
	overlay("tag", &base.Tags)
	overlay("status", &base.Statuses)
	overlay("assignee", &base.Assignees)
	overlay("project", &base.Projects)
	overlay("priority", &base.Priorities)
	if flags.Changed("closed") {
		base.IncludeClosed, _ = flags.GetBool("closed")
		changed = true
	}
	return base, changed
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync periodically until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = time.Duration(a.cfg.Cache.PollIntervalSec) * time.Second
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		poller := sync.NewPoller(a.orch, interval, a.logger)
		poller.Start(ctx)
		defer poller.Stop()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Syncing every %s. Press Ctrl+C to stop...\n", interval)
		for {
			select {
			case <-ctx.Done():
				fmt.Fprintln(out, "\nStopping.")
				return nil
			case r := <-poller.Results():
				switch {
				case r.AuthExpired:
					fmt.Fprintf(out, "%s %s\n", theme.WarningStyle.Render("auth:"), r.Message)
				case r.Error != nil:
					fmt.Fprintf(out, "%s %v\n", theme.WarningStyle.Render("sync failed:"), r.Error)
				default:
					renderResult(out, r.Result)
				}
			}
		}
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Look for data and settings left by older cache versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if found := a.scanner.Scan(ctx); found != nil {
			fmt.Fprintf(out, "Found %d groups under legacy key %q.\n", len(found.Groups), found.Key)
		} else {
			fmt.Fprintln(out, "No legacy cache data found.")
		}

		// The live token may come from the keyring rather than the file.
		cfg := *a.cfg
		liveToken := a.token()
		cfg.Source.Token = liveToken
		filled, err := a.scanner.RecoverConfig(ctx, &cfg)
		if err != nil {
			return err
		}
		if len(filled) == 0 {
			fmt.Fprintln(out, "No legacy settings to recover.")
			return nil
		}
		fmt.Fprintf(out, "Recoverable settings: %v\n", filled)

		if save, _ := cmd.Flags().GetBool("save"); !save {
			fmt.Fprintln(out, "Run with --save to write them to the config file.")
			return nil
		}
		if cfg.Source.Token != liveToken {
			if err := credential.Set(credential.TokenKey(cfg.Source.Type), cfg.Source.Token); err != nil {
				return fmt.Errorf("storing recovered token: %w", err)
			}
		}
		if err := model.SaveConfig(configPath, &cfg); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved to %s.\n", configPath)
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("json", false, "Print the result as JSON")

	clearCmd.Flags().Bool("forget-token", false, "Also delete the API token from the keyring")

	statusCmd.Flags().Bool("json", false, "Print the status as JSON")
	statusCmd.Flags().Bool("check", false, "Also verify the tracker connection")

	showCmd.Flags().Bool("json", false, "Print the groups as JSON")
	showCmd.Flags().StringSlice("tag", nil, "Only show items with one of these tags")
	showCmd.Flags().StringSlice("status", nil, "Only show items in one of these statuses")
	showCmd.Flags().StringSlice("assignee", nil, "Only show items assigned to one of these people")
	showCmd.Flags().StringSlice("project", nil, "Only show items in one of these projects")
	showCmd.Flags().StringSlice("priority", nil, "Only show items with one of these priorities")
	showCmd.Flags().Bool("closed", false, "Include closed items")

	watchCmd.Flags().Duration("interval", 0, "Time between syncs (default from cache.poll_interval_sec)")

	recoverCmd.Flags().Bool("save", false, "Write recovered settings to the config file")

	rootCmd.AddCommand(syncCmd, clearCmd, statusCmd, showCmd, watchCmd, recoverCmd)
}
