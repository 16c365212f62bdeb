package main

import (
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	brokerURL  string
	transport  string
	storePath  string
	tracePath  string
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "relayd",
		Short:         "Relay local notifications to a paired device over a message broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Configuration file (YAML)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&g.brokerURL, "broker", "", "Broker URL (overrides config; disables mDNS lookup)")
	pf.StringVar(&g.transport, "transport", "", "Broker transport: mqtt or nats")
	pf.StringVar(&g.storePath, "state", "", "State store path (overrides config)")
	pf.StringVar(&g.tracePath, "trace", "", "Write the binary event trace to this file")

	root.AddCommand(
		newRunCmd(&g),
		newConsoleCmd(&g),
		newStateCmd(&g),
		newStopCmd(&g),
		newRestartCmd(&g),
		newAckCmd(&g),
		newOpenCmd(&g),
		newLinkCmd(&g),
		newUnlinkCmd(&g),
		newDiscoverCmd(&g),
		newNotifyCmd(&g),
		newBrokerCmd(&g),
	)
	return root
}
