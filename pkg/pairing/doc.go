// Package pairing implements the link protocol with a remote peer device.
//
// A peer is linked by publishing a link request to device/{id}/link and
// watching device/{id}/status for its online state. The status subscription
// is made before the request is published so a status update sent right
// after the peer accepts is not missed.
//
// The active pairing is persisted so that after a restart or reconnect the
// relay can restore the status subscription without linking again.
//
// The Manager also carries the other peer-facing traffic: discovery
// (discover-request / discover-response/{peerId}), notification forwarding
// and untargeted broadcasts.
package pairing
