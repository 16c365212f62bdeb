package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/notify-relay/relay-go/pkg/pairing"
	"github.com/notify-relay/relay-go/pkg/wire"
)

// withOnline connects to the broker, runs fn and disconnects again. The
// persisted health state is left as it was.
func withOnline(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, g, appOptions{connect: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.svc.Start(ctx); err != nil {
		return startError(err)
	}
	if !a.svc.Connection().IsConnected() {
		return fmt.Errorf("broker %s unreachable", a.cfg.Broker.URL)
	}
	return fn(ctx, a)
}

func newLinkCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "link <device-id>",
		Short: "Pair with a remote device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOnline(cmd, g, func(ctx context.Context, a *app) error {
				if err := a.svc.Link(ctx, args[0], a.cfg.User.ID, a.cfg.User.Name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "linked to %s\n", args[0])
				return nil
			})
		},
	}
}

func newUnlinkCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink",
		Short: "Remove the active pairing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOnline(cmd, g, func(ctx context.Context, a *app) error {
				p, ok := a.svc.Pairing().Active()
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "no active pairing")
					return nil
				}
				if err := a.svc.Unlink(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unlinked %s\n", p.DeviceID)
				return nil
			})
		},
	}
}

func newDiscoverCmd(g *globalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List remote devices that answer a discovery request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOnline(cmd, g, func(ctx context.Context, a *app) error {
				peers, err := a.svc.Discover(ctx, timeout)
				if err != nil {
					return err
				}
				return printPeers(cmd, peers)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", pairing.DefaultDiscoveryTimeout, "How long to collect responses")
	return cmd
}

func printPeers(cmd *cobra.Command, peers []pairing.Peer) error {
	out := cmd.OutOrStdout()
	if len(peers) == 0 {
		fmt.Fprintln(out, "no devices answered")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tAVAILABLE")
	for _, p := range peers {
		fmt.Fprintf(tw, "%s\t%s\t%v\n", p.ID, p.Name, p.Available)
	}
	return tw.Flush()
}

func newNotifyCmd(g *globalFlags) *cobra.Command {
	var title, content, appName string
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Forward a single notification to the paired device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return errors.New("--title is required")
			}
			return withOnline(cmd, g, func(ctx context.Context, a *app) error {
				n := wire.NewNotification(title, content, appName, time.Now())
				if err := a.svc.Relay(ctx, n); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", n.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Notification title")
	cmd.Flags().StringVar(&content, "content", "", "Notification body")
	cmd.Flags().StringVar(&appName, "app", "relayd", "Originating application name")
	return cmd
}
