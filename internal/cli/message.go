package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/gateway"
	"github.com/BrotherOrange/PlayForge/internal/routing"
	"github.com/BrotherOrange/PlayForge/internal/session"
	"github.com/spf13/cobra"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send and manage messages",
	}

	cmd.AddCommand(newMessageSendCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var (
		threadID string
		owner    string
		stream   bool
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Run one turn locally and print the reply",
		Long: "Run one turn through the local executor. Without --thread a new lead " +
			"designer is created with the configured defaults.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if threadID == "" {
				provider := cfg.Agents.Defaults.Provider
				a, _, err := rt.router.CreateLead(ctx, owner, routing.CreateLeadRequest{
					Provider: domain.Provider(provider),
					Model:    rt.defaultModel(provider),
				})
				if err != nil {
					return err
				}
				threadID = a.ThreadID
				fmt.Fprintf(cmd.ErrOrStderr(), "[agent=%s thread=%s]\n", a.ID, threadID)
			}

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			var transports []session.Transport
			if stream {
				transports = append(transports, session.TransportFunc(func(ev domain.Event) error {
					switch ev.Type {
					case domain.EventToken, domain.EventResponse:
						fmt.Fprint(out, ev.Content)
					case domain.EventProgress:
						fmt.Fprintf(errOut, "\n[%s]\n", ev.Content)
					}
					return nil
				}))
			}

			sub, err := rt.router.Submit(ctx, owner, threadID, content, transports...)
			if err != nil {
				return err
			}

			select {
			case <-sub.Done():
			case <-ctx.Done():
				rt.router.Cancel(context.Background(), owner, threadID)
				<-sub.Done()
			}

			res := sub.Result()
			if stream {
				fmt.Fprintln(out)
			} else if res.Content != "" {
				fmt.Fprintln(out, res.Content)
			}
			fmt.Fprintf(errOut, "\n[status=%s tokens=%d+%d duration=%s]\n",
				res.Status, res.Usage.InputTokens, res.Usage.OutputTokens, res.Duration.Round(time.Millisecond))
			if res.Status == domain.TurnFailed {
				if res.Err == nil {
					return domain.ErrModelFailure
				}
				return res.Err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "thread to continue (default: new lead agent)")
	cmd.Flags().StringVar(&owner, "owner", gateway.DefaultOwnerID, "owner id of the thread")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the reply as it is generated")

	return cmd
}
