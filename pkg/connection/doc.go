// Package connection owns the relay's broker connection and its recovery.
//
// # Manager
//
// Manager holds the single broker.Client, created lazily on first Connect.
// Connect is single-flight: while one attempt is running, concurrent
// callers get ErrConnectInProgress instead of queueing a second attempt.
// The underlying client's own reconnect logic is always disabled.
//
// A connection is considered up only when both the client reports it and
// the Manager has observed a successful connect without a later loss.
//
// # Strategy
//
// Strategy reacts to connection loss by scheduling exactly one reconnect
// attempt at a time, spaced by a backoff table:
//
//  1. 1s, 2s, 4s, 8s, 16s
//  2. 16s repeats until a connect succeeds
//  3. On success, subscriptions are replayed and the table restarts
//
// A direct Connect that fails asks the Strategy to retry after a fixed 10s.
// Disconnect and Close cancel any pending attempt. Only Disconnect runs
// the registered disconnect hooks.
package connection
