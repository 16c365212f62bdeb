package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notify-relay/relay-go/cmd/relayd/console"
)

func newConsoleCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Run the relay with an interactive console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			con, err := console.New()
			if err != nil {
				return err
			}

			a, err := newApp(ctx, g, appOptions{
				connect:   true,
				logOutput: con.Stdout(),
				notifier:  con,
			})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			con.Attach(a.svc, a.cfg.User.ID, a.cfg.User.Name)

			if err := a.svc.Start(ctx); err != nil {
				// Stopped or disabled relays can still be restarted from
				// the console.
				a.logger.Warn("relay not started", "error", startError(err))
			}

			con.Run(ctx, cancel)
			return nil
		},
	}
}
