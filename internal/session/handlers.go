package session

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/router"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"go.uber.org/zap"
)

func (c *Controller) authenticate(ctx context.Context, ev *Authenticate) error {
	user, err := c.svc.Auth.Authenticate(ctx, ev.Token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	wasAuthenticated := c.state == Authenticated
	switch {
	case c.state == Closed:
		c.mu.Unlock()
		return nil
	case wasAuthenticated && c.user.ID != user.ID:
		c.mu.Unlock()
		return apperr.Conflict("connection is already authenticated as another identity")
	}
	c.mu.Unlock()

	if _, err := c.svc.Directory.Bind(ctx, user.ID, c.peer.ID()); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = Authenticated
	c.user = user
	c.mu.Unlock()

	snapshot, err := c.snapshot(ctx, user)
	if err == nil {
		var rooms RoomUpdate
		if rooms, err = c.svc.availableRooms(ctx, user.ID); err == nil {
			c.log.Info("authenticated", zap.Stringer("identity", user.ID), zap.String("username", user.Username))
			c.reply(EventAuthenticated, snapshot)
			c.reply(EventRoomUpdate, rooms)
		}
	}
	if err != nil {
		if !wasAuthenticated {
			c.unauthenticate(ctx)
		}
		return err
	}

	c.svc.broadcastUserlist(ctx)
	return nil
}

// unauthenticate undoes the binding of a failed first authenticate.
func (c *Controller) unauthenticate(ctx context.Context) {
	c.mu.Lock()
	if c.state != Authenticated {
		c.mu.Unlock()
		return
	}
	c.state = Unauthenticated
	c.user = nil
	c.mu.Unlock()

	c.svc.Directory.Unbind(context.WithoutCancel(ctx), c.peer.ID())
}

func (c *Controller) snapshot(ctx context.Context, user *models.User) (*AuthSnapshot, error) {
	list, err := c.svc.userlist(ctx)
	if err != nil {
		return nil, err
	}
	favorites, err := c.svc.Identities.FavoriteRooms(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	room, err := c.svc.DefaultRoomFor(ctx)
	if err != nil {
		return nil, err
	}
	history, err := c.svc.history(ctx, services.KindRoom, room.ID.String(), "")
	if err != nil {
		return nil, err
	}
	return &AuthSnapshot{
		UserProfile:        userView(user, true),
		Userlist:           list,
		FavoriteRooms:      favorites,
		DefaultRoomID:      room.ID,
		DefaultRoomHistory: history,
	}, nil
}

func (c *Controller) checkUsername(ctx context.Context, ev *CheckUsername) error {
	name := strings.TrimSpace(ev.Username)
	if name == "" {
		return apperr.Validation("username is required")
	}
	_, err := c.svc.Identities.FindUserByUsername(ctx, name)
	available := errors.Is(err, apperr.ErrNotFound)
	if err != nil && !available {
		return err
	}
	c.reply(availabilityPrefix+name, Availability{Username: name, Available: available})
	return nil
}

func (c *Controller) join(ctx context.Context, sess Session, ev *Join) error {
	roomID, err := parseRoomID(ev.RoomID)
	if err != nil {
		return err
	}
	room, err := c.svc.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := c.svc.authorizeRoom(ctx, room, sess.User.ID); err != nil {
		return err
	}
	if err := c.svc.Rooms.SetMembershipActive(ctx, room.ID, sess.User.ID, true); err != nil {
		return err
	}

	out := JoinComplete{EncryptionScheme: room.EncryptionScheme}
	if room.EncryptionScheme == models.SchemeMasterKey {
		key, err := c.memberKey(ctx, room.ID, sess.User.ID)
		if err != nil {
			return err
		}
		out.MemberKey = key
		room.KeyVersion = key.KeyVersion
	}
	out.Room = roomView(room, nil)
	c.reply(EventJoinComplete, out)

	c.svc.Presence.Join(room.ID.String(), sess.ConnID)
	return nil
}

// memberKey makes sure the room key is current for every member and returns
// the caller's sealed copy.
func (c *Controller) memberKey(ctx context.Context, roomID, userID uuid.UUID) (*SealedKey, error) {
	res, err := c.svc.Keys.Ensure(ctx, roomID)
	if err != nil {
		return nil, err
	}
	mk, err := c.svc.Keys.MemberKey(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	return &SealedKey{ChatID: roomID.String(), KeyVersion: res.Version, Ciphertext: mk.Ciphertext}, nil
}

func (c *Controller) part(ctx context.Context, sess Session, ev *Part) error {
	roomID, err := parseRoomID(ev.ChatID)
	if err != nil {
		return err
	}
	present := c.svc.Presence.Part(roomID.String(), sess.ConnID)
	if err := c.svc.markParted(ctx, roomID.String(), sess.User.ID, present); err != nil {
		return err
	}
	c.reply(EventPartComplete, PartComplete{ChatID: roomID.String()})
	return nil
}

func (c *Controller) createRoom(ctx context.Context, sess Session, ev *CreateRoom) error {
	name := strings.TrimSpace(ev.Name)
	if name == "" {
		return apperr.Validation("room name is required")
	}
	scheme := ev.EncryptionScheme
	if scheme == "" {
		scheme = models.SchemeClientKey
	}
	if !scheme.Valid() {
		return apperr.Validation("unknown encryption scheme " + string(scheme))
	}

	room := &models.Room{
		Name:               name,
		Topic:              ev.Topic,
		MembershipRequired: ev.MembershipRequired,
		KeepHistory:        ev.KeepHistory,
		EncryptionScheme:   scheme,
		CreatedBy:          sess.User.ID,
	}
	if err := c.svc.Rooms.CreateRoom(ctx, room, sess.User.ID); err != nil {
		return err
	}
	if room.EncryptionScheme == models.SchemeMasterKey {
		c.svc.Keys.Trigger(room.ID)
	}

	c.reply(EventCreateRoomComplete, RoomComplete{Room: roomView(room, nil)})
	c.svc.publishRoom(ctx, room)
	return nil
}

func (c *Controller) updateRoom(ctx context.Context, sess Session, ev *UpdateRoom) error {
	roomID, err := parseRoomID(ev.ID)
	if err != nil {
		return err
	}
	room, err := c.svc.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if _, err := c.svc.requireManager(ctx, room.ID, sess.User.ID); err != nil {
		return err
	}

	if name := strings.TrimSpace(ev.Name); name != "" {
		room.Name = name
	}
	if ev.EncryptionScheme != "" {
		if !ev.EncryptionScheme.Valid() {
			return apperr.Validation("unknown encryption scheme " + string(ev.EncryptionScheme))
		}
		room.EncryptionScheme = ev.EncryptionScheme
	}
	room.Topic = ev.Topic
	room.KeepHistory = ev.KeepHistory
	room.MembershipRequired = ev.MembershipRequired

	if err := c.svc.Rooms.UpdateRoom(ctx, room); err != nil {
		return err
	}
	// key_version may have moved under a concurrent rotation
	if fresh, err := c.svc.Rooms.GetRoom(ctx, room.ID); err == nil {
		room = fresh
	}
	if room.EncryptionScheme == models.SchemeMasterKey {
		c.svc.Keys.Trigger(room.ID)
	}

	c.reply(EventUpdateRoomComplete, RoomComplete{Room: roomView(room, nil)})
	c.svc.publishRoom(ctx, room)
	return nil
}

func (c *Controller) membership(ctx context.Context, sess Session, ev *Membership) error {
	roomID, err := parseRoomID(ev.ChatID)
	if err != nil {
		return err
	}
	memberID, err := uuid.Parse(ev.MemberID)
	if err != nil {
		return apperr.Validation("invalid member id")
	}
	if !ev.Membership.Valid() {
		return apperr.Validation("unknown membership " + string(ev.Membership))
	}

	room, err := c.svc.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	actor, err := c.svc.requireManager(ctx, room.ID, sess.User.ID)
	if err != nil {
		return err
	}
	if ev.Membership == models.RoleOwner && actor.Role != models.RoleOwner {
		return apperr.Forbidden("only owners may grant ownership")
	}

	switch ev.Type {
	case MembershipAdd:
		if _, err := c.svc.Identities.GetUser(ctx, memberID); err != nil {
			return err
		}
	case MembershipModify:
		current, err := c.svc.Rooms.Membership(ctx, room.ID, memberID)
		if err != nil {
			return err
		}
		if current.Role == models.RoleOwner && actor.Role != models.RoleOwner {
			return apperr.Forbidden("only owners may change an owner")
		}
	default:
		return apperr.Validation("unknown membership change " + string(ev.Type))
	}

	err = c.svc.Rooms.UpsertMembership(ctx, &models.RoomMembership{
		RoomID: room.ID,
		UserID: memberID,
		Role:   ev.Membership,
	})
	if err != nil {
		return err
	}
	if room.EncryptionScheme == models.SchemeMasterKey {
		c.svc.Keys.Trigger(room.ID)
	}

	c.reply(EventMembershipComplete, MembershipComplete{
		ChatID:     room.ID.String(),
		MemberID:   memberID,
		Membership: ev.Membership,
	})
	c.svc.publishRoom(ctx, room)
	return nil
}

func (c *Controller) getChat(ctx context.Context, sess Session, ev *GetChat) error {
	var (
		chat *models.PrivateChat
		err  error
	)
	switch {
	case len(ev.ParticipantIDs) > 0:
		participants := router.Participants(append([]uuid.UUID{sess.User.ID}, ev.ParticipantIDs...)...)
		if ev.ChatHash != "" && ev.ChatHash != router.ChatID(participants) {
			return apperr.Validation("chatHash does not match participants")
		}
		chat, err = c.svc.Router.ResolveChat(ctx, participants)
	case ev.ChatID != "":
		chat, err = c.svc.Chats.GetPrivateChat(ctx, ev.ChatID)
	case ev.ChatHash != "":
		chat, err = c.svc.Chats.GetPrivateChat(ctx, ev.ChatHash)
	default:
		return apperr.Validation("chatId, chatHash or participantIds is required")
	}
	if err != nil {
		return err
	}
	if !chat.HasParticipant(sess.User.ID) {
		return apperr.Forbidden("not a participant of this chat")
	}

	history, err := c.svc.history(ctx, services.KindChat, chat.ID, "")
	if err != nil {
		return err
	}

	event := EventChatUpdate
	if ev.ChatHash != "" {
		event = EventChatUpdate + "-" + ev.ChatHash
	}
	c.reply(event, ChatUpdate{Chat: ChatView{
		ID:             chat.ID,
		Type:           "chat",
		ParticipantIDs: chat.ParticipantIDs,
		Messages:       history,
	}})
	return nil
}

func (c *Controller) getPreviousPage(ctx context.Context, sess Session, ev *GetPreviousPage) error {
	kind := services.ChatKind(ev.Type)
	switch kind {
	case services.KindRoom:
		roomID, err := parseRoomID(ev.ChatID)
		if err != nil {
			return err
		}
		room, err := c.svc.Rooms.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if err := c.svc.authorizeRoom(ctx, room, sess.User.ID); err != nil {
			return err
		}
	case services.KindChat:
		chat, err := c.svc.Chats.GetPrivateChat(ctx, ev.ChatID)
		if err != nil {
			return err
		}
		if !chat.HasParticipant(sess.User.ID) {
			return apperr.Forbidden("not a participant of this chat")
		}
	default:
		return apperr.Validation("type must be room or chat")
	}

	messages, err := c.svc.history(ctx, kind, ev.ChatID, ev.ReferenceMessageID)
	if err != nil {
		return err
	}
	c.reply(EventPreviousPage, PreviousPage{ChatID: ev.ChatID, Messages: messages})
	return nil
}

func (c *Controller) toggleFavorite(ctx context.Context, sess Session, ev *ToggleFavorite) error {
	roomID, err := parseRoomID(ev.ChatID)
	if err != nil {
		return err
	}
	room, err := c.svc.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := c.svc.authorizeRoom(ctx, room, sess.User.ID); err != nil {
		return err
	}
	favorite, err := c.svc.Identities.ToggleFavorite(ctx, sess.User.ID, room.ID)
	if err != nil {
		return err
	}
	c.reply(toggleFavoritePrefix+ev.ChatID, FavoriteToggled{ChatID: ev.ChatID, Favorite: favorite})
	return nil
}

func (c *Controller) getRoomKey(ctx context.Context, sess Session, ev *GetRoomKey) error {
	roomID, err := parseRoomID(ev.ChatID)
	if err != nil {
		return err
	}
	room, err := c.svc.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := c.svc.authorizeRoom(ctx, room, sess.User.ID); err != nil {
		return err
	}
	if room.EncryptionScheme != models.SchemeMasterKey {
		return apperr.Validation("room does not use a shared key")
	}
	key, err := c.memberKey(ctx, room.ID, sess.User.ID)
	if err != nil {
		return err
	}
	c.reply(EventRoomKey, key)
	return nil
}
