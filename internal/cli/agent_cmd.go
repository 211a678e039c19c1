package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/gateway"
	"github.com/BrotherOrange/PlayForge/internal/routing"
	"github.com/spf13/cobra"
)

var ownerID string

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.PersistentFlags().StringVar(&ownerID, "owner", gateway.DefaultOwnerID, "owner id the agents belong to")

	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentCreateCmd())
	cmd.AddCommand(newAgentDeleteCmd())
	cmd.AddCommand(newAgentMessagesCmd())
	return cmd
}

// withRuntime loads the config, wires the runtime and runs fn with it.
func withRuntime(fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()
	return fn(context.Background(), rt)
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents, each lead followed by its team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				agents, err := rt.router.ListAgents(ctx, ownerID)
				if err != nil {
					return err
				}
				if len(agents) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no agents")
					return nil
				}
				for _, a := range agents {
					printAgent(cmd.OutOrStdout(), a)
				}
				return nil
			})
		},
	}
}

func printAgent(w io.Writer, a domain.Agent) {
	indent := ""
	if !a.IsLead() {
		indent = "  └ "
	}
	state := ""
	if !a.Active {
		state = " (inactive)"
	}
	fmt.Fprintf(w, "%s%-36s %-28s %s/%s thread=%s%s\n",
		indent, a.ID, a.DisplayName, a.Provider, a.Model, a.ThreadID, state)
}

func newAgentCreateCmd() *cobra.Command {
	var (
		provider string
		model    string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a lead designer agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				if provider == "" {
					provider = rt.cfg.Agents.Defaults.Provider
				}
				if model == "" {
					model = rt.defaultModel(provider)
				}
				a, th, err := rt.router.CreateLead(ctx, ownerID, routing.CreateLeadRequest{
					Provider:    domain.Provider(provider),
					Model:       model,
					DisplayName: name,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "agent  %s\nthread %s\n", a.ID, th.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "model provider (openai, anthropic, gemini)")
	cmd.Flags().StringVar(&model, "model", "", "model name")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func newAgentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <agent-id>",
		Short: "Delete an agent with its thread and team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				if err := rt.router.DeleteAgent(ctx, ownerID, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newAgentMessagesCmd() *cobra.Command {
	var (
		limit  int
		offset int
		search string
	)

	cmd := &cobra.Command{
		Use:   "messages <thread-id>",
		Short: "Print a thread's history, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				var (
					msgs []domain.Message
					err  error
				)
				if search != "" {
					msgs, err = rt.router.SearchMessages(ctx, ownerID, args[0], search, limit)
				} else {
					msgs, err = rt.router.ListMessages(ctx, ownerID, args[0], limit, offset)
				}
				if err != nil {
					return err
				}
				for _, m := range msgs {
					printMessage(cmd.OutOrStdout(), m)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "page size (default 50, max 200)")
	cmd.Flags().IntVar(&offset, "offset", 0, "messages to skip")
	cmd.Flags().StringVar(&search, "search", "", "only messages matching these words")
	return cmd
}

func printMessage(w io.Writer, m domain.Message) {
	role := string(m.Role)
	if m.ToolName != "" {
		role += ":" + m.ToolName
	}
	fmt.Fprintf(w, "[%s] %s\n%s\n\n", m.CreatedAt.Format("2006-01-02 15:04:05"), role, strings.TrimSpace(m.Content))
}
