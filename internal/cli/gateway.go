package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/gateway"
	"github.com/BrotherOrange/PlayForge/internal/logging"
	"github.com/spf13/cobra"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the PlayForge gateway server",
	}

	cmd.AddCommand(newGatewayRunCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port   int
		bind   string
		toFile bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			logFile := cfg.Logging.File
			if logFile == "" && toFile {
				logFile = paths.LogFile()
			}
			style := cfg.Logging.ConsoleStyle
			if logJSON {
				style = "json"
			}
			l, closeLog, err := logging.Open(logging.Options{
				Level:        cfg.Logging.Level,
				File:         logFile,
				ConsoleLevel: consoleLevel(cfg.Logging.ConsoleLevel),
				ConsoleStyle: style,
				Console:      cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer closeLog()
			log = l
			if logFile != "" {
				log.Info().Str("file", logFile).Msg("writing logs to file")
			}

			// Raw config backs the read-only config endpoint
			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				raw = make(map[string]any)
			}

			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt.start(ctx)

			srv := gateway.New(cfg, rt.router, log,
				gateway.WithConfigRaw(raw),
				gateway.WithHooks(rt.hooks),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")
	cmd.Flags().BoolVar(&toFile, "log-file", false, "also log to <home>/logs/gateway.log when logging.file is unset")

	return cmd
}
