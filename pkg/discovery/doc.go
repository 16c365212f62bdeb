// Package discovery locates a pub/sub broker on the local network over
// mDNS/DNS-SD.
//
// Brokers are found under two service types:
//
//   - _mqtt._tcp for MQTT brokers
//   - _nats._tcp for NATS servers
//
// TXT records are optional. A broker may set "tls=1" to ask clients for an
// encrypted connection and "ver" for its protocol version.
//
// The Advertiser side is used by relayd's embedded broker so that other
// relays on the LAN can find it without configuration.
package discovery
