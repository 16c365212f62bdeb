// Command relay-log views and analyzes relay event traces.
//
// Trace files are written by relayd when started with --trace or with
// trace.path set in its configuration.
//
// Usage:
//
//	relay-log <command> [flags] <file.rlog>
//
// Commands:
//
//	view     View trace in human-readable format
//	export   Export trace to JSON lines or CSV
//	filter   Filter trace and write to new file
//	stats    Show statistics about the trace
//
// Examples:
//
//	# View watchdog repairs
//	relay-log view --layer watchdog relay.rlog
//
//	# Export outbound messages to CSV
//	relay-log export --format csv --direction out relay.rlog
//
//	# Keep one device's traffic
//	relay-log filter --device-id phone-01 -o phone.rlog relay.rlog
//
//	# Show statistics
//	relay-log stats relay.rlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/notify-relay/relay-go/cmd/relay-log/commands"
)

const usage = `relay-log - Relay Event Trace Analyzer

Usage:
  relay-log <command> [flags] <file.rlog>

Commands:
  view     View trace in human-readable format
  export   Export trace to JSON lines or CSV
  filter   Filter trace and write to new file
  stats    Show statistics about the trace

Use "relay-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// selectionFlags registers the shared filter flags on fs.
func selectionFlags(fs *flag.FlagSet) *commands.FilterOptions {
	o := &commands.FilterOptions{}
	fs.StringVar(&o.Layer, "layer", "", "Filter by layer (broker, link, service, watchdog)")
	fs.StringVar(&o.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&o.Category, "category", "", "Filter by category (message, control, state, error, repair)")
	fs.StringVar(&o.DeviceID, "device-id", "", "Filter by device ID")
	fs.StringVar(&o.Topic, "topic", "", "Filter by exact topic")
	fs.StringVar(&o.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&o.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	return o
}

func parseArgs(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func selection(o *commands.FilterOptions) commands.Selection {
	sel, err := o.Parse()
	if err != nil {
		fail(err)
	}
	return sel
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func usageFor(fs *flag.FlagSet, text string) {
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, text)
		fs.PrintDefaults()
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	usageFor(fs, `relay-log view - View trace in human-readable format

Usage:
  relay-log view [flags] <file.rlog>

Flags:
`)
	opts := selectionFlags(fs)
	path := parseArgs(fs, args)

	if err := commands.RunView(path, selection(opts), os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	usageFor(fs, `relay-log export - Export trace to JSON lines or CSV

Usage:
  relay-log export [flags] <file.rlog>

Flags:
`)
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	opts := selectionFlags(fs)
	path := parseArgs(fs, args)

	if err := commands.RunExport(path, *format, *output, selection(opts)); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	usageFor(fs, `relay-log filter - Filter trace and write to new file

Usage:
  relay-log filter [flags] <file.rlog>

Flags:
`)
	output := fs.String("o", "", "Output file (required)")
	opts := selectionFlags(fs)
	path := parseArgs(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	if err := commands.RunFilter(path, *output, selection(opts), os.Stdout); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	usageFor(fs, `relay-log stats - Show statistics about the trace

Usage:
  relay-log stats <file.rlog>

`)
	path := parseArgs(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
