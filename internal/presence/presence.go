// Package presence derives who is online in a room from the transport groups.
package presence

import (
	"sort"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/keylock"
	"github.com/thereayou/cipherchat/internal/websocket"
	"go.uber.org/zap"
)

const EventActiveUsers = "activeUsersUpdate"

// Groups is the transport group membership presence is computed from.
type Groups interface {
	JoinGroup(group string, connID uuid.UUID) bool
	LeaveGroup(group string, connID uuid.UUID) bool
	GroupMembers(group string) []uuid.UUID
	SendToGroup(group string, frame []byte)
}

// Identities resolves a connection to its bound identity.
type Identities interface {
	IdentityFor(connID uuid.UUID) (uuid.UUID, bool)
}

type ActiveUsersUpdate struct {
	ChatID      string      `json:"chatId"`
	ActiveUsers []uuid.UUID `json:"activeUsers"`
}

// Tracker serializes group changes per room and pushes the recomputed
// presence to the room after every change.
type Tracker struct {
	groups     Groups
	identities Identities
	roomLocks  *keylock.Map[string]
	log        *zap.Logger
}

func NewTracker(groups Groups, identities Identities, log *zap.Logger) *Tracker {
	return &Tracker{
		groups:     groups,
		identities: identities,
		roomLocks:  keylock.New[string](),
		log:        log.Named("presence"),
	}
}

// Join adds the connection to the room's group and returns the new presence.
func (t *Tracker) Join(room string, connID uuid.UUID) []uuid.UUID {
	unlock := t.roomLocks.Lock(room)
	defer unlock()

	if !t.groups.JoinGroup(room, connID) {
		t.log.Debug("join for unknown connection", zap.String("room", room), zap.Stringer("conn", connID))
	}
	return t.publishLocked(room)
}

// Part removes the connection from the room's group and returns the new
// presence. Parting a room the connection is not in still republishes.
func (t *Tracker) Part(room string, connID uuid.UUID) []uuid.UUID {
	unlock := t.roomLocks.Lock(room)
	defer unlock()

	t.groups.LeaveGroup(room, connID)
	return t.publishLocked(room)
}

// Recompute republishes the presence of rooms whose groups changed outside
// the tracker, such as after a disconnect.
func (t *Tracker) Recompute(rooms ...string) {
	for _, room := range rooms {
		unlock := t.roomLocks.Lock(room)
		t.publishLocked(room)
		unlock()
	}
}

// Present returns the distinct identities joined to the room.
func (t *Tracker) Present(room string) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	present := make([]uuid.UUID, 0)
	for _, connID := range t.groups.GroupMembers(room) {
		identity, ok := t.identities.IdentityFor(connID)
		if !ok {
			continue
		}
		if _, dup := seen[identity]; dup {
			continue
		}
		seen[identity] = struct{}{}
		present = append(present, identity)
	}
	sort.Slice(present, func(i, j int) bool { return present[i].String() < present[j].String() })
	return present
}

func (t *Tracker) publishLocked(room string) []uuid.UUID {
	present := t.Present(room)
	frame, err := websocket.Encode(EventActiveUsers, ActiveUsersUpdate{ChatID: room, ActiveUsers: present})
	if err != nil {
		t.log.Error("failed to encode presence", zap.String("room", room), zap.Error(err))
		return present
	}
	t.groups.SendToGroup(room, frame)
	return present
}
