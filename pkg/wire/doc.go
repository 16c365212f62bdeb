// Package wire defines the JSON payloads exchanged over the broker.
//
// Every relay topic carries a small JSON object. Timestamps are Unix
// milliseconds. Decoding is lenient: unknown fields are ignored so peers can
// add fields without breaking older relays.
//
//	device/{id}/link          LinkMessage  {action, userId, username, clientId, timestamp}
//	device/{id}/status        Status       {connected}
//	device/{id}/notification  Notification {title, content, appName, timestamp, id}
//	discover-request          DiscoverRequest  {clientId, timestamp}
//	discover-response/{peer}  DiscoverResponse {available}
//	broadcast                 Broadcast    {title, content}
package wire
