// Package log provides the structured event trace for the relay.
//
// The trace is separate from operational logging (slog). It records a
// machine-readable history of everything the resilience layer did: broker
// connects and losses, reconnect scheduling, subscription changes, service
// state transitions and watchdog repairs. When a device goes quiet for hours,
// the trace is what explains why.
//
// # Basic Usage
//
//	// Development: mirror events to the console
//	cfg.EventLog = log.NewSlogAdapter(slog.Default())
//
//	// Production: append to a binary trace file
//	cfg.EventLog, _ = log.NewFileLogger("/var/lib/relay/relay.rlog")
//
//	// Both
//	cfg.EventLog = log.NewMultiLogger(console, file)
//
// # File Format
//
// Trace files are a stream of CBOR-encoded events with integer keys
// (.rlog). The relay-log command views, filters and summarises them.
package log
