// Package subscription tracks the topics the relay believes it is
// subscribed to.
//
// The broker session is clean, so every subscription is forgotten when the
// connection drops. The Registry keeps the intended set across the drop and
// replays it with ResubscribeAll once the connection is back. The tracked
// set is therefore best-effort: between a drop and the replay it is a
// superset of what the broker holds.
package subscription
