// Package broker defines the pub/sub client abstraction used by the relay.
//
// A Client is a single connection to a remote broker. Implementations live
// in sub-packages:
//
//   - mqttclient: MQTT 3.1.1 via Eclipse Paho
//   - natsclient: NATS core subjects
//
// Both disable their library's built-in reconnect logic. Reconnection is
// owned by the connection package so that backoff, resubscription and
// liveness bookkeeping happen in exactly one place.
//
// # Topics
//
// Topics are slash-separated strings. Filters may use the MQTT wildcards
// "+" (one level) and "#" (all remaining levels, last position only):
//
//	device/+/status     matches device/abc/status
//	discover-response/# matches discover-response/peer-1
//
// The relay protocol uses the following topics:
//
//	discover-request              peer discovery broadcast
//	discover-response/{peerId}    {available}
//	device/{id}/link              link/unlink requests
//	device/{id}/status            {connected}
//	device/{id}/notification      forwarded notifications
//	broadcast                     untargeted notifications
package broker
