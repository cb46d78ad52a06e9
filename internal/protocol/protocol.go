package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingEvent   = errors.New("frame has no event name")
)

// Client -> server events.
const (
	EventAuthenticate    = "authenticate"
	EventJoinVesselRoom  = "join_vessel_room"
	EventLeaveVesselRoom = "leave_vessel_room"
	EventJoinAreaRoom    = "join_area_room"
	EventLeaveAreaRoom   = "leave_area_room"
	EventMarkAlertRead   = "mark_alert_read"
	EventDismissAlert    = "dismiss_alert"
)

// Server -> client events.
const (
	EventAuthenticated        = "authenticated"
	EventUnauthorized         = "unauthorized"
	EventRoomJoined           = "room_joined"
	EventRoomLeft             = "room_left"
	EventRoomJoinError        = "room_join_error"
	EventVesselPositionUpdate = "vessel_position_update"
	EventAreaAlert            = "area_alert"
	EventCreditBalanceUpdated = "credit_balance_updated"
	EventCreditLowBalance     = "credit_low_balance"
	EventServerMessage        = "server_message"
)

// Lifecycle events synthesised locally by the connection manager.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventConnectError     = "connect_error"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnect        = "reconnect"
	EventReconnectFailed  = "reconnect_failed"
)

// Room types as they appear in room_joined/room_left payloads.
const (
	RoomTypeVessel = "vessel"
	RoomTypeArea   = "area"
)

// Frame is one message on the push channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame for event with data marshalled as its payload.
// A nil data produces a frame without a data field.
func Encode(event string, data any) ([]byte, error) {
	if event == "" {
		return nil, ErrMissingEvent
	}

	f := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		f.Data = raw
	}

	return json.Marshal(f)
}

// Decode parses a raw frame.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Event == "" {
		return Frame{}, ErrMissingEvent
	}
	return f, nil
}

// DecodeData unmarshals a frame payload into T.
func DecodeData[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return v, nil
}

// AuthenticatedPayload is the data of an authenticated event.
type AuthenticatedPayload struct {
	UserID  string `json:"userId"`
	Success bool   `json:"success"`
}

// UnauthorizedPayload is the data of an unauthorized event.
type UnauthorizedPayload struct {
	Message string `json:"message"`
}

// RoomPayload is the data of room_joined and room_left.
type RoomPayload struct {
	Room string `json:"room"`
	Type string `json:"type"`
}

// RoomJoinErrorPayload is the data of room_join_error.
type RoomJoinErrorPayload struct {
	Room    string `json:"room"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RoomID returns the bare room identifier. Servers may prefix the room name
// with its type ("vessel:v-1"); the prefix is stripped when it matches Type.
func (p RoomPayload) RoomID() string {
	return trimRoomPrefix(p.Room, p.Type)
}

// RoomID returns the bare room identifier.
func (p RoomJoinErrorPayload) RoomID() string {
	return trimRoomPrefix(p.Room, p.Type)
}

func trimRoomPrefix(room, typ string) string {
	if typ == "" {
		return room
	}
	return strings.TrimPrefix(room, typ+":")
}

// Position is a WGS84 coordinate.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// VesselPositionUpdate is the data of vessel_position_update.
type VesselPositionUpdate struct {
	VesselID  string    `json:"vesselId"`
	Timestamp time.Time `json:"timestamp"`
	Position  Position  `json:"position"`
	Heading   float64   `json:"heading"`
	Speed     float64   `json:"speed"`
	Status    string    `json:"status"`
}

// AreaAlert is the data of area_alert.
type AreaAlert struct {
	ID        string    `json:"id"`
	AreaID    string    `json:"areaId"`
	AreaName  string    `json:"areaName"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CreditBalanceUpdated is the data of credit_balance_updated.
type CreditBalanceUpdated struct {
	Balance float64 `json:"balance"`
	Change  float64 `json:"change"`
}

// CreditLowBalance is the data of credit_low_balance.
type CreditLowBalance struct {
	Balance   float64 `json:"balance"`
	Threshold float64 `json:"threshold"`
}

// ServerMessage is the data of server_message.
type ServerMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
