// Package protocol defines the push-channel wire format.
//
// Every frame is a single JSON text message:
//
//	{"event": "vessel_position_update", "data": {...}}
//
// Client commands that take one argument carry it as a bare JSON string
// (`{"event":"join_vessel_room","data":"v-1"}`). Lifecycle events such as
// connect, disconnect and reconnect_attempt never travel over the wire; the
// connection manager synthesises them and encodes them with the same helpers so
// listeners see a single event stream.
package protocol
