package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/models"
)

const (
	EventAuthenticated      = "authenticated"
	EventError              = "errorMessage"
	EventUserlistUpdate     = "userlistUpdate"
	EventRoomUpdate         = "roomUpdate"
	EventJoinComplete       = "joinComplete"
	EventPartComplete       = "partComplete"
	EventCreateRoomComplete = "createRoomComplete"
	EventUpdateRoomComplete = "updateRoomComplete"
	EventMembershipComplete = "membershipUpdateComplete"
	EventChatUpdate         = "chatUpdate"
	EventPreviousPage       = "previousPageUpdate"
	EventRoomKey            = "roomKey"

	availabilityPrefix   = "availability-"
	toggleFavoritePrefix = "toggleFavoriteComplete-"
)

type ErrorMessage struct {
	Event   string `json:"event,omitempty"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// UserView is the public part of an identity.
type UserView struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	PublicKey []byte    `json:"publicKey"`
	Active    bool      `json:"active"`
}

func userView(u *models.User, active bool) UserView {
	return UserView{ID: u.ID, Username: u.Username, PublicKey: u.PublicKey, Active: active}
}

type RoomView struct {
	ID                 uuid.UUID               `json:"id"`
	Name               string                  `json:"name"`
	Topic              string                  `json:"topic"`
	MembershipRequired bool                    `json:"membershipRequired"`
	KeepHistory        bool                    `json:"keepHistory"`
	EncryptionScheme   models.EncryptionScheme `json:"encryptionScheme"`
	KeyVersion         uint64                  `json:"keyVersion"`
	Members            []MemberView            `json:"members,omitempty"`
}

type MemberView struct {
	UserID uuid.UUID   `json:"userId"`
	Role   models.Role `json:"membership"`
}

func roomView(r *models.Room, members []models.RoomMembership) RoomView {
	v := RoomView{
		ID:                 r.ID,
		Name:               r.Name,
		Topic:              r.Topic,
		MembershipRequired: r.MembershipRequired,
		KeepHistory:        r.KeepHistory,
		EncryptionScheme:   r.EncryptionScheme,
		KeyVersion:         r.KeyVersion,
	}
	for _, m := range members {
		v.Members = append(v.Members, MemberView{UserID: m.UserID, Role: m.Role})
	}
	return v
}

type MessageView struct {
	ID         uuid.UUID   `json:"id"`
	MessageID  string      `json:"messageId"`
	ChatID     string      `json:"chatId"`
	FromUserID uuid.UUID   `json:"fromUserId"`
	ToUserIDs  []uuid.UUID `json:"toUserIds,omitempty"`
	Date       time.Time   `json:"date"`
	Message    string      `json:"message"`
	Signature  string      `json:"signature,omitempty"`
}

func messageViews(messages []models.Message) []MessageView {
	out := make([]MessageView, len(messages))
	for i, m := range messages {
		out[i] = MessageView{
			ID:         m.ID,
			MessageID:  m.ClientMessageID,
			ChatID:     m.ChatRef(),
			FromUserID: m.FromUserID,
			ToUserIDs:  m.ToUserIDs,
			Date:       m.CreatedAt,
			Message:    m.Ciphertext,
			Signature:  m.Signature,
		}
	}
	return out
}

type Userlist struct {
	Userlist    []UserView           `json:"userlist"`
	UserNameMap map[string]uuid.UUID `json:"userNameMap"`
}

type AuthSnapshot struct {
	UserProfile UserView `json:"userProfile"`
	Userlist
	FavoriteRooms      []uuid.UUID   `json:"favoriteRooms"`
	DefaultRoomID      uuid.UUID     `json:"defaultRoomId"`
	DefaultRoomHistory []MessageView `json:"defaultRoomHistory"`
}

type RoomUpdate struct {
	Rooms []RoomView `json:"rooms"`
}

type Availability struct {
	Username  string `json:"username"`
	Available bool   `json:"available"`
}

type SealedKey struct {
	ChatID     string `json:"chatId"`
	KeyVersion uint64 `json:"keyVersion"`
	Ciphertext []byte `json:"ciphertext"`
}

type JoinComplete struct {
	EncryptionScheme models.EncryptionScheme `json:"encryptionScheme"`
	Room             RoomView                `json:"room"`
	MemberKey        *SealedKey              `json:"memberKey,omitempty"`
}

type PartComplete struct {
	ChatID string `json:"chatId"`
}

type RoomComplete struct {
	Room RoomView `json:"room"`
}

type MembershipComplete struct {
	ChatID     string      `json:"chatId"`
	MemberID   uuid.UUID   `json:"memberId"`
	Membership models.Role `json:"membership"`
}

type ChatView struct {
	ID             string        `json:"id"`
	Type           string        `json:"type"`
	ParticipantIDs []uuid.UUID   `json:"participantIds"`
	Messages       []MessageView `json:"messages"`
}

type ChatUpdate struct {
	Chat ChatView `json:"chat"`
}

type PreviousPage struct {
	ChatID   string        `json:"chatId"`
	Messages []MessageView `json:"messages"`
}

type FavoriteToggled struct {
	ChatID   string `json:"chatId"`
	Favorite bool   `json:"favorite"`
}
