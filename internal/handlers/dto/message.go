package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/models"
)

// MessageResponse is one stored message. The server never sees plaintext, so
// Ciphertext is passed through untouched.
type MessageResponse struct {
	ID         uuid.UUID   `json:"id"`
	MessageID  string      `json:"messageId"`
	ChatID     string      `json:"chatId"`
	FromUserID uuid.UUID   `json:"fromUserId"`
	ToUserIDs  []uuid.UUID `json:"toUserIds,omitempty"`
	Ciphertext string      `json:"message"`
	Signature  string      `json:"signature,omitempty"`
	CreatedAt  time.Time   `json:"date"`
}

func NewMessageResponse(m *models.Message) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		MessageID:  m.ClientMessageID,
		ChatID:     m.ChatRef(),
		FromUserID: m.FromUserID,
		ToUserIDs:  m.ToUserIDs,
		Ciphertext: m.Ciphertext,
		Signature:  m.Signature,
		CreatedAt:  m.CreatedAt,
	}
}

type UserInfo struct {
	ID         uuid.UUID `json:"id"`
	Username   string    `json:"username"`
	PublicKey  []byte    `json:"publicKey"`
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

type MemberInfo struct {
	UserInfo
	Role   models.Role `json:"membership"`
	Joined bool        `json:"joined"`
}

type RoomInfo struct {
	ID                 uuid.UUID               `json:"id"`
	Name               string                  `json:"name"`
	Topic              string                  `json:"topic"`
	MembershipRequired bool                    `json:"membershipRequired"`
	KeepHistory        bool                    `json:"keepHistory"`
	EncryptionScheme   models.EncryptionScheme `json:"encryptionScheme"`
	KeyVersion         uint64                  `json:"keyVersion"`
	CreatedBy          uuid.UUID               `json:"createdBy"`
	OnlineCount        int                     `json:"onlineCount"`
}

func NewRoomInfo(r *models.Room, online int) RoomInfo {
	return RoomInfo{
		ID:                 r.ID,
		Name:               r.Name,
		Topic:              r.Topic,
		MembershipRequired: r.MembershipRequired,
		KeepHistory:        r.KeepHistory,
		EncryptionScheme:   r.EncryptionScheme,
		KeyVersion:         r.KeyVersion,
		CreatedBy:          r.CreatedBy,
		OnlineCount:        online,
	}
}
