// Command relayd runs the notification relay.
//
// The relay keeps a broker connection alive, forwards local notifications
// to a paired remote device and repairs itself when it stops receiving
// traffic.
//
// Usage:
//
//	relayd <command> [flags]
//
// Commands:
//
//	run       Run the relay until interrupted
//	state     Show the persisted relay state
//	stop      Stop the relay (persisted; survives restarts)
//	restart   Clear a user stop so the next run starts
//	ack       Acknowledge the stopped alert (disable until app open)
//	open      Signal an app open (re-enables a disabled relay)
//	link      Pair with a remote device
//	unlink    Remove the active pairing
//	discover  List remote devices on the broker
//	notify    Forward a single notification
//	console   Run the relay with an interactive console
//	broker    Run an embedded NATS broker advertised over mDNS
//
// Examples:
//
//	# Run with a config file and expose metrics
//	relayd run --config /etc/relayd.yaml --metrics :9101
//
//	# Pair with a phone found by discovery
//	relayd discover && relayd link phone-01
//
//	# Forward a notification read from stdin as JSON lines
//	relayd run --stdin < notifications.jsonl
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
