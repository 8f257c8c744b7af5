// Package session runs the per-connection protocol state machine and
// dispatches inbound events to directory, presence, router and keys.
package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/directory"
	"github.com/thereayou/cipherchat/internal/keys"
	"github.com/thereayou/cipherchat/internal/metrics"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/presence"
	"github.com/thereayou/cipherchat/internal/router"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/internal/websocket"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Transport is the live connection registry sessions talk through.
type Transport interface {
	Register(p websocket.Peer)
	Unregister(connID uuid.UUID) []string
	SendTo(connIDs []uuid.UUID, frame []byte)
	Broadcast(frame []byte)
}

type Deps struct {
	Transport  Transport
	Directory  *directory.Directory
	Presence   *presence.Tracker
	Router     *router.Router
	Keys       *keys.Coordinator
	Auth       services.Authenticator
	Identities services.IdentityStore
	Rooms      services.RoomStore
	Chats      services.ChatStore
	Messages   services.MessageStore
	Metrics    *metrics.Metrics
	Logger     *zap.Logger

	// DefaultRoom is the name of the room every identity lands in.
	DefaultRoom string
	PageSize    int
}

// Service holds what all sessions share.
type Service struct {
	Deps
	defaultRoom singleflight.Group
	log         *zap.Logger
}

func NewService(deps Deps) *Service {
	if deps.PageSize <= 0 {
		deps.PageSize = 50
	}
	return &Service{Deps: deps, log: deps.Logger.Named("session")}
}

// Open registers a new connection. It starts unauthenticated.
func (s *Service) Open(peer websocket.Peer) *Controller {
	s.Transport.Register(peer)
	s.Metrics.ConnectionOpened()
	return &Controller{
		svc:  s,
		peer: peer,
		log:  s.log.With(zap.Stringer("conn", peer.ID())),
	}
}

func (s *Service) send(connIDs []uuid.UUID, event string, data interface{}) {
	frame, err := websocket.Encode(event, data)
	if err != nil {
		s.log.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	s.Transport.SendTo(connIDs, frame)
}

func (s *Service) broadcast(event string, data interface{}) {
	frame, err := websocket.Encode(event, data)
	if err != nil {
		s.log.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	s.Transport.Broadcast(frame)
}

func (s *Service) userlist(ctx context.Context) (Userlist, error) {
	users, err := s.Identities.ListUsers(ctx)
	if err != nil {
		return Userlist{}, err
	}
	list := Userlist{
		Userlist:    make([]UserView, 0, len(users)),
		UserNameMap: make(map[string]uuid.UUID, len(users)),
	}
	for i := range users {
		u := &users[i]
		list.Userlist = append(list.Userlist, userView(u, s.Directory.IsOnline(u.ID)))
		list.UserNameMap[u.Username] = u.ID
	}
	return list, nil
}

func (s *Service) broadcastUserlist(ctx context.Context) {
	list, err := s.userlist(ctx)
	if err != nil {
		s.log.Error("failed to build userlist", zap.Error(err))
		return
	}
	s.broadcast(EventUserlistUpdate, list)
}

// DefaultRoomFor returns the landing room, creating it on first use. Concurrent
// first callers share one creation.
func (s *Service) DefaultRoomFor(ctx context.Context) (*models.Room, error) {
	// Shared by every concurrent caller, so one caller's cancellation must
	// not fail the others.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.defaultRoom.Do(s.DefaultRoom, func() (interface{}, error) {
		return s.Rooms.GetOrCreateRoomByName(shared, &models.Room{
			Name:             s.DefaultRoom,
			KeepHistory:      true,
			EncryptionScheme: models.SchemeClientKey,
		})
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Room), nil
}

func (s *Service) history(ctx context.Context, kind services.ChatKind, ref, reference string) ([]MessageView, error) {
	messages, err := s.Messages.Page(ctx, services.PageQuery{
		Kind:      kind,
		ChatRef:   ref,
		Reference: reference,
		Limit:     s.PageSize,
	})
	if err != nil {
		return nil, err
	}
	return messageViews(messages), nil
}

// markParted clears the identity's joined flag for room once none of its
// connections are present there any more.
func (s *Service) markParted(ctx context.Context, room string, identity uuid.UUID, present []uuid.UUID) error {
	for _, id := range present {
		if id == identity {
			return nil
		}
	}
	roomID, err := uuid.Parse(room)
	if err != nil {
		return nil
	}
	return s.Rooms.SetMembershipActive(ctx, roomID, identity, false)
}

// authorizeRoom lets anyone into open rooms and only members into the rest.
func (s *Service) authorizeRoom(ctx context.Context, room *models.Room, userID uuid.UUID) error {
	if !room.MembershipRequired {
		return nil
	}
	if _, err := s.Rooms.Membership(ctx, room.ID, userID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Forbidden("not a member of this room")
		}
		return err
	}
	return nil
}

// requireManager returns the caller's membership if it may manage the room.
func (s *Service) requireManager(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMembership, error) {
	m, err := s.Rooms.Membership(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Forbidden("not a member of this room")
		}
		return nil, err
	}
	if !m.Role.CanManage() {
		return nil, apperr.Forbidden("only owners and admins may manage this room")
	}
	return m, nil
}

// publishRoom pushes a room's new state. Open rooms go to everyone,
// membership-required rooms only to their members' connections.
func (s *Service) publishRoom(ctx context.Context, room *models.Room) {
	if !room.MembershipRequired {
		s.broadcast(EventRoomUpdate, RoomUpdate{Rooms: []RoomView{roomView(room, nil)}})
		return
	}

	members, err := s.Rooms.Members(ctx, room.ID)
	if err != nil {
		s.log.Error("failed to load members for room update", zap.Stringer("room", room.ID), zap.Error(err))
		return
	}
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	s.send(s.Directory.ConnectionsForAll(ids), EventRoomUpdate, RoomUpdate{Rooms: []RoomView{roomView(room, members)}})
}

func (s *Service) availableRooms(ctx context.Context, userID uuid.UUID) (RoomUpdate, error) {
	rooms, err := s.Rooms.AvailableRooms(ctx, userID)
	if err != nil {
		return RoomUpdate{}, err
	}
	update := RoomUpdate{Rooms: make([]RoomView, len(rooms))}
	for i := range rooms {
		update.Rooms[i] = roomView(&rooms[i], nil)
	}
	return update, nil
}
