package connection

import (
	"sort"

	"github.com/rickgao/vesselwatch/internal/protocol"
)

// Category is the kind of room.
type Category uint8

const (
	CategoryVessel Category = iota
	CategoryArea
)

func (c Category) String() string {
	switch c {
	case CategoryVessel:
		return protocol.RoomTypeVessel
	case CategoryArea:
		return protocol.RoomTypeArea
	default:
		return "unknown"
	}
}

func (c Category) joinEvent() string {
	if c == CategoryArea {
		return protocol.EventJoinAreaRoom
	}
	return protocol.EventJoinVesselRoom
}

func (c Category) leaveEvent() string {
	if c == CategoryArea {
		return protocol.EventLeaveAreaRoom
	}
	return protocol.EventLeaveVesselRoom
}

// categoryFromType maps a wire room type to a Category.
func categoryFromType(typ string) (Category, bool) {
	switch typ {
	case protocol.RoomTypeVessel:
		return CategoryVessel, true
	case protocol.RoomTypeArea:
		return CategoryArea, true
	default:
		return 0, false
	}
}

// Desired is what the caller wants for a room.
type Desired uint8

const (
	DesiredLeft Desired = iota
	DesiredJoined
)

func (d Desired) String() string {
	if d == DesiredJoined {
		return "joined"
	}
	return "left"
}

// Confirmed is what the current connection has acknowledged for a room.
type Confirmed uint8

const (
	ConfirmedLeft Confirmed = iota
	ConfirmedPending
	ConfirmedJoined
)

func (c Confirmed) String() string {
	switch c {
	case ConfirmedJoined:
		return "joined"
	case ConfirmedPending:
		return "pending"
	default:
		return "left"
	}
}

// Room is a snapshot of one registry entry.
type Room struct {
	Category  Category
	ID        string
	Desired   Desired
	Confirmed Confirmed
}

type roomKey struct {
	category Category
	id       string
}

type roomEntry struct {
	desired   Desired
	confirmed Confirmed
	order     uint64 // When the room last became desired
}

// roomRegistry holds desired and confirmed state per room. Like the
// operation queue it is guarded by the manager lock.
type roomRegistry struct {
	rooms map[roomKey]*roomEntry
	seq   uint64
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{rooms: make(map[roomKey]*roomEntry)}
}

// want marks key desired-joined. It reports whether the room was not
// already desired. A newly desired room is pending until the server
// confirms it.
func (r *roomRegistry) want(key roomKey) bool {
	e, ok := r.rooms[key]
	if !ok {
		e = &roomEntry{}
		r.rooms[key] = e
	}
	if e.desired == DesiredJoined {
		return false
	}
	r.seq++
	e.desired = DesiredJoined
	e.order = r.seq
	if e.confirmed != ConfirmedJoined {
		e.confirmed = ConfirmedPending
	}
	return true
}

// unwant marks key desired-left and returns its confirmed state.
func (r *roomRegistry) unwant(key roomKey) Confirmed {
	e, ok := r.rooms[key]
	if !ok {
		return ConfirmedLeft
	}
	e.desired = DesiredLeft
	confirmed := e.confirmed
	r.prune(key, e)
	return confirmed
}

func (r *roomRegistry) get(key roomKey) (roomEntry, bool) {
	e, ok := r.rooms[key]
	if !ok {
		return roomEntry{}, false
	}
	return *e, true
}

// confirm records a server acknowledgement. Unknown rooms joined by the
// server are tracked so a later leave can reach them.
func (r *roomRegistry) confirm(key roomKey, c Confirmed) {
	e, ok := r.rooms[key]
	if !ok {
		if c == ConfirmedLeft {
			return
		}
		e = &roomEntry{}
		r.rooms[key] = e
	}
	e.confirmed = c
	r.prune(key, e)
}

func (r *roomRegistry) setPending(key roomKey) {
	if e, ok := r.rooms[key]; ok {
		e.confirmed = ConfirmedPending
	}
}

// resetConfirmed forgets every acknowledgement. Called whenever the
// transport changes: desired rooms go back to pending, the rest are dropped.
func (r *roomRegistry) resetConfirmed() {
	for key, e := range r.rooms {
		if e.desired != DesiredJoined {
			delete(r.rooms, key)
			continue
		}
		e.confirmed = ConfirmedPending
	}
}

// desiredJoined returns desired rooms in the order they became desired.
func (r *roomRegistry) desiredJoined() []roomKey {
	type ordered struct {
		key   roomKey
		order uint64
	}

	var rooms []ordered
	for key, e := range r.rooms {
		if e.desired == DesiredJoined {
			rooms = append(rooms, ordered{key, e.order})
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].order < rooms[j].order })

	keys := make([]roomKey, len(rooms))
	for i, o := range rooms {
		keys[i] = o.key
	}
	return keys
}

// snapshot returns desired rooms in sweep order followed by rooms that are
// only still confirmed, ordered by category then id.
func (r *roomRegistry) snapshot() []Room {
	out := make([]Room, 0, len(r.rooms))
	for _, key := range r.desiredJoined() {
		e := r.rooms[key]
		out = append(out, Room{Category: key.category, ID: key.id, Desired: e.desired, Confirmed: e.confirmed})
	}

	var rest []Room
	for key, e := range r.rooms {
		if e.desired != DesiredJoined {
			rest = append(rest, Room{Category: key.category, ID: key.id, Desired: e.desired, Confirmed: e.confirmed})
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].Category != rest[j].Category {
			return rest[i].Category < rest[j].Category
		}
		return rest[i].ID < rest[j].ID
	})

	return append(out, rest...)
}

func (r *roomRegistry) prune(key roomKey, e *roomEntry) {
	if e.desired == DesiredLeft && e.confirmed == ConfirmedLeft {
		delete(r.rooms, key)
	}
}
