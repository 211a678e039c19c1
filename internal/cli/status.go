package cli

import (
	"fmt"
	"strings"

	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/llm"
	"github.com/BrotherOrange/PlayForge/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show PlayForge status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "PlayForge %s (commit %s)\n\n", version.Version, version.Commit)

			// Show paths
			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s users=%d tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode,
				len(cfg.Gateway.Auth.Users), cfg.Gateway.TLS.Enabled)

			dbPath := cfg.Store.Path
			if dbPath == "" {
				dbPath = paths.DatabasePath()
			}
			if cfg.Store.Driver == "memory" {
				dbPath = "-"
			}
			fmt.Fprintf(out, "Store:   driver=%s path=%s\n", cfg.Store.Driver, dbPath)

			// LLM providers
			registry := llm.NewRegistryFromConfig(cfg.Models, cfg.Agents.Defaults.Provider, log)
			if providers := registry.List(); len(providers) > 0 {
				fmt.Fprintf(out, "LLM:     %s\n", strings.Join(providers, ", "))
			} else {
				fmt.Fprintln(out, "LLM:     (none configured)")
			}
			if len(cfg.Models.Fallbacks) > 0 {
				fmt.Fprintf(out, "Failover: %s\n", strings.Join(cfg.Models.Fallbacks, " → "))
			}

			d := cfg.Agents.Defaults
			model := d.Model
			if model == "" {
				model = registry.DefaultModel(d.Provider)
			}
			fmt.Fprintf(out, "Agents:  provider=%s model=%s maxTokens=%d memory=%d/%d\n",
				d.Provider, model, d.MaxTokens, d.MemoryWindow, d.SubAgentMemoryWindow)
			fmt.Fprintf(out, "Turns:   timeout=%dm retries=%d team.await=%ds team.concurrency=%d\n",
				cfg.Turn.TimeoutMinutes, cfg.Turn.Retry.MaxAttempts,
				cfg.Team.AwaitTimeoutSeconds, cfg.Team.MaxConcurrent)

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
