// Package connection implements the realtime connection manager.
//
// The Manager:
//   - Owns one push-channel transport at a time, tagged with an epoch
//   - Authenticates it and retries rejected tokens with exponential backoff
//   - Reconnects after transport loss under a fresh epoch
//   - Queues outbound operations until the connection is authenticated
//   - Remembers desired vessel/area rooms and rejoins them after every
//     authentication
//   - Feeds inbound and lifecycle events to a router.Router in arrival order
package connection
