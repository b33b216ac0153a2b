package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/taskcache/internal/credential"
	"github.com/nhle/taskcache/internal/model"
	"github.com/nhle/taskcache/internal/source/jira"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set up the tracker connection interactively",
	Long: `Prompt for the tracker URL, account and API token, verify them, and
save the settings. The token is stored in the system keyring, never in
the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := model.LoadConfig(configPath)
		if err != nil {
			return err
		}

		var token string
		form := buildJiraForm(cfg, &token)
		if err := form.Run(); err != nil {
			return fmt.Errorf("configure: %w", err)
		}

		out := cmd.OutOrStdout()
		adapter := jira.NewAdapter(cfg.Source.BaseURL, cfg.Source.Email, token, cfg.Source.JQL, cfg.Source.PageSize, nil)
		name, err := adapter.ValidateConnection(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Connected as %s.\n", name)

		if err := credential.Set(credential.TokenKey(cfg.Source.Type), token); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}
		if err := model.SaveConfig(configPath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved to %s.\n", configPath)
		return nil
	},
}

func buildJiraForm(cfg *model.AppConfig, token *string) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Base URL").
				Description("Jira URL (e.g., https://jira.example.com)").
				Placeholder("https://jira.example.com").
				Value(&cfg.Source.BaseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Email").
				Description("Jira Cloud account email; leave empty for a Server/DC Personal Access Token").
				Value(&cfg.Source.Email),
			huh.NewInput().
				Title("API Token").
				EchoMode(huh.EchoModePassword).
				Value(token).
				Validate(validateRequired("Token")),
			huh.NewInput().
				Title("JQL").
				Description("Optional query selecting the items to cache").
				Placeholder("assignee=currentUser() ORDER BY updated DESC").
				Value(&cfg.Source.JQL),
		),
	)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("URL must include scheme and host (e.g., https://example.com)")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(configureCmd)
}
