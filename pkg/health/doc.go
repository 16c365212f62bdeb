// Package health tracks the relay's overall service health.
//
// The service is always in exactly one of four states:
//
//	RUNNING   normal operation
//	DEGRADED  running but impaired; carries a Reason
//	STOPPED   stopped by the user or the watchdog gave up
//	DISABLED  stopped and must not restart until the app is reopened
//
// Allowed transitions:
//
//	RUNNING  -> DEGRADED, STOPPED, DISABLED
//	DEGRADED -> RUNNING, STOPPED, DISABLED
//	STOPPED  -> RUNNING, DISABLED
//	DISABLED -> RUNNING (ResetOnAppOpen only)
//
// The Machine never rejects a transition. Transitions outside the table are
// applied and logged so that a collaborator bug cannot wedge the service.
//
// State is persisted through a single writer goroutine. Writes are applied
// in call order, so the persisted value always ends up equal to the last
// state set. SetStateSync blocks until the write (and everything queued
// before it) has reached the store; use it right before asking the hosting
// process to stop so a concurrent watchdog tick cannot restart it.
//
// The AlertGate limits "service stopped" alerts to one per RUNNING session.
package health
