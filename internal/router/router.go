// Package router authorizes, persists and fans out chat messages.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/keylock"
	"github.com/thereayou/cipherchat/internal/metrics"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/internal/websocket"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"go.uber.org/zap"
)

const (
	EventRoomMessage    = "roomMessage"
	EventPrivateMessage = "privateMessage"
)

// Identities resolves connections to identities and back.
type Identities interface {
	IdentityFor(connID uuid.UUID) (uuid.UUID, bool)
	ConnectionsForAll(identities []uuid.UUID) []uuid.UUID
}

// Transport delivers encoded frames to live connections.
type Transport interface {
	SendToGroup(group string, frame []byte)
	SendTo(connIDs []uuid.UUID, frame []byte)
}

type RoomMessageRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Message   string `json:"pgpMessage"`
}

// RoomMessage is what every connection in the room receives.
type RoomMessage struct {
	ChatID     string    `json:"chatId"`
	FromUserID uuid.UUID `json:"fromUserId"`
	MessageID  string    `json:"messageId"`
	Message    string    `json:"message"`
}

type PrivateMessageRequest struct {
	ChatID    string      `json:"chatId"`
	ToUserIDs []uuid.UUID `json:"toUserIds"`
	MessageID string      `json:"messageId"`
	Message   string      `json:"pgpMessage"`
	Signature string      `json:"signature"`
}

// PrivateMessage is what every participant connection receives.
type PrivateMessage struct {
	FromUserID uuid.UUID   `json:"fromUserId"`
	Type       string      `json:"type"`
	ChatID     string      `json:"chatId"`
	MessageID  string      `json:"messageId"`
	ToUserIDs  []uuid.UUID `json:"toUserIds"`
	Date       time.Time   `json:"date"`
	Message    string      `json:"message"`
	Signature  string      `json:"signature,omitempty"`
}

type Router struct {
	identities Identities
	transport  Transport
	rooms      services.RoomStore
	chats      services.ChatStore
	messages   services.MessageStore

	chatLocks *keylock.Map[string]
	metrics   *metrics.Metrics
	log       *zap.Logger
}

type Options struct {
	Identities Identities
	Transport  Transport
	Rooms      services.RoomStore
	Chats      services.ChatStore
	Messages   services.MessageStore
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

func New(opts Options) *Router {
	return &Router{
		identities: opts.Identities,
		transport:  opts.Transport,
		rooms:      opts.Rooms,
		chats:      opts.Chats,
		messages:   opts.Messages,
		chatLocks:  keylock.New[string](),
		metrics:    opts.Metrics,
		log:        opts.Logger.Named("router"),
	}
}

func (r *Router) sender(connID uuid.UUID) (uuid.UUID, error) {
	identity, ok := r.identities.IdentityFor(connID)
	if !ok {
		return uuid.Nil, apperr.Unauthorized("connection is not authenticated")
	}
	return identity, nil
}

// RoomMessage broadcasts a room message to the room's live group, sender
// included. When the room keeps history the message is stored first and a
// storage failure cancels the broadcast.
func (r *Router) RoomMessage(ctx context.Context, connID uuid.UUID, req RoomMessageRequest) (*RoomMessage, error) {
	from, err := r.sender(connID)
	if err != nil {
		return nil, err
	}

	roomID, err := uuid.Parse(req.ChatID)
	if err != nil {
		return nil, apperr.Validation("chatId is not a room id")
	}
	if req.MessageID == "" || req.Message == "" {
		return nil, apperr.Validation("messageId and message are required")
	}

	room, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := r.authorizeRoom(ctx, room, from); err != nil {
		return nil, err
	}

	if room.KeepHistory {
		msg := &models.Message{
			RoomID:          &room.ID,
			FromUserID:      from,
			ClientMessageID: req.MessageID,
			Ciphertext:      req.Message,
		}
		if err := r.messages.SaveMessage(ctx, msg); err != nil {
			r.metrics.PersistFailed("room")
			r.log.Error("failed to store room message, not broadcasting",
				zap.Stringer("room", room.ID),
				zap.Stringer("from", from),
				zap.String("messageId", req.MessageID),
				zap.Error(err))
			return nil, err
		}
	}

	out := &RoomMessage{
		ChatID:     room.ID.String(),
		FromUserID: from,
		MessageID:  req.MessageID,
		Message:    req.Message,
	}
	frame, err := websocket.Encode(EventRoomMessage, out)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to encode message", err)
	}
	r.transport.SendToGroup(room.ID.String(), frame)
	r.metrics.MessageRouted("room")
	return out, nil
}

func (r *Router) authorizeRoom(ctx context.Context, room *models.Room, identity uuid.UUID) error {
	if !room.MembershipRequired {
		return nil
	}
	if _, err := r.rooms.Membership(ctx, room.ID, identity); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Forbidden("not a member of this room")
		}
		return err
	}
	return nil
}

// PrivateMessage stores a message in the chat addressed by the participant
// set and delivers it to every live connection of every participant. The
// sending connection always gets exactly one copy.
func (r *Router) PrivateMessage(ctx context.Context, connID uuid.UUID, req PrivateMessageRequest) (*PrivateMessage, error) {
	from, err := r.sender(connID)
	if err != nil {
		return nil, err
	}
	if req.MessageID == "" || req.Message == "" {
		return nil, apperr.Validation("messageId and message are required")
	}

	participants := Participants(append([]uuid.UUID{from}, req.ToUserIDs...)...)
	if len(participants) < 2 {
		return nil, apperr.Validation("a private chat needs at least two participants")
	}
	chatID := ChatID(participants)
	if req.ChatID != "" && req.ChatID != chatID {
		return nil, apperr.Validation("chatId does not match participants")
	}

	chat, err := r.resolveChat(ctx, chatID, participants)
	if err != nil {
		return nil, err
	}

	recipients := make([]uuid.UUID, 0, len(participants)-1)
	for _, id := range chat.ParticipantIDs {
		if id != from {
			recipients = append(recipients, id)
		}
	}

	msg := &models.Message{
		ChatID:          &chat.ID,
		FromUserID:      from,
		ToUserIDs:       recipients,
		ClientMessageID: req.MessageID,
		Ciphertext:      req.Message,
		Signature:       req.Signature,
	}
	if err := r.messages.SaveMessage(ctx, msg); err != nil {
		r.metrics.PersistFailed("chat")
		r.log.Error("failed to store private message, not delivering",
			zap.String("chat", chat.ID),
			zap.Stringer("from", from),
			zap.String("messageId", req.MessageID),
			zap.Error(err))
		return nil, err
	}

	out := &PrivateMessage{
		FromUserID: from,
		Type:       "chat",
		ChatID:     chat.ID,
		MessageID:  req.MessageID,
		ToUserIDs:  recipients,
		Date:       msg.CreatedAt,
		Message:    req.Message,
		Signature:  req.Signature,
	}
	frame, err := websocket.Encode(EventPrivateMessage, out)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to encode message", err)
	}

	targets := r.identities.ConnectionsForAll(chat.ParticipantIDs)
	if !containsID(targets, connID) {
		targets = append(targets, connID)
	}
	r.transport.SendTo(targets, frame)
	r.metrics.MessageRouted("chat")

	if len(targets) == 1 {
		r.log.Debug("no other participant online", zap.String("chat", chat.ID))
	}
	return out, nil
}

// ResolveChat returns the private chat for the participants, creating it if
// needed.
func (r *Router) ResolveChat(ctx context.Context, participants []uuid.UUID) (*models.PrivateChat, error) {
	canonical := Participants(participants...)
	if len(canonical) < 2 {
		return nil, apperr.Validation("a private chat needs at least two participants")
	}
	return r.resolveChat(ctx, ChatID(canonical), canonical)
}

func (r *Router) resolveChat(ctx context.Context, chatID string, participants []uuid.UUID) (*models.PrivateChat, error) {
	unlock := r.chatLocks.Lock(chatID)
	defer unlock()

	chat, err := r.chats.GetPrivateChat(ctx, chatID)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return r.chats.GetOrCreatePrivateChat(ctx, &models.PrivateChat{ID: chatID, ParticipantIDs: participants})
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
