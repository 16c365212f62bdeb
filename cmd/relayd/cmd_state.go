package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/notify-relay/relay-go/pkg/health"
	"github.com/notify-relay/relay-go/pkg/service"
)

// withOffline runs fn against the persisted state without connecting.
func withOffline(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, g, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func newStateCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the persisted relay state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd, g, func(_ context.Context, a *app) error {
				return printStatus(cmd.OutOrStdout(), a.svc.Status(), asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func printStatus(w io.Writer, st service.Status, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "State:\t%s\n", st.State)
	fmt.Fprintf(tw, "Connected:\t%v\n", st.Connected)
	if st.Reconnecting {
		fmt.Fprintf(tw, "Reconnecting:\tattempt %d\n", st.ReconnectTry)
	}
	fmt.Fprintf(tw, "Listener:\t%s\n", enabledName(st.ListenerEnabled))
	fmt.Fprintf(tw, "Watchdog:\t%s\n", runningName(st.WatchdogRunning))
	fmt.Fprintf(tw, "Subscriptions:\t%d\n", st.Subscriptions)
	if st.PeerID != "" {
		peer := st.PeerID
		if st.PeerName != "" {
			peer += " (" + st.PeerName + ")"
		}
		fmt.Fprintf(tw, "Peer:\t%s, %s\n", peer, onlineName(st.PeerOnline))
	} else {
		fmt.Fprintf(tw, "Peer:\tnone\n")
	}
	fmt.Fprintf(tw, "Last message:\t%s\n", ago(st.LastMessage))
	fmt.Fprintf(tw, "Last connection:\t%s\n", ago(st.LastConnection))
	fmt.Fprintf(tw, "Repairs:\t%d forced, %d deep\n", st.ForceResets, st.DeepResets)
	fmt.Fprintf(tw, "Stopped alerts:\t%d\n", st.StoppedAlerts)
	return tw.Flush()
}

func enabledName(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func runningName(b bool) string {
	if b {
		return "running"
	}
	return "idle"
}

func onlineName(b bool) string {
	if b {
		return "online"
	}
	return "offline"
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", t.Format(time.RFC3339), time.Since(t).Round(time.Second))
}

func newStopCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the relay; it stays stopped across restarts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd, g, func(ctx context.Context, a *app) error {
				if err := a.svc.Stop(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "relay stopped")
				return nil
			})
		},
	}
}

func newRestartCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Clear a stop so the next run starts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd, g, func(ctx context.Context, a *app) error {
				m := a.svc.Health()
				m.Alerts().Reset()
				m.SetStateSync(health.Running())
				fmt.Fprintf(cmd.OutOrStdout(), "relay state: %s\n", m.State())
				return nil
			})
		},
	}
}

func newAckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ack",
		Short: "Acknowledge the stopped alert; the relay stays off until 'open'",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd, g, func(ctx context.Context, a *app) error {
				if err := a.svc.Acknowledge(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "relay disabled")
				return nil
			})
		},
	}
}

func newOpenCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Signal an app open; re-enables a disabled relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd, g, func(ctx context.Context, a *app) error {
				st := a.svc.Health().ResetOnAppOpen()
				fmt.Fprintf(cmd.OutOrStdout(), "relay state: %s\n", st)
				return nil
			})
		},
	}
}
