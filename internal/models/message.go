package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrChatReference = errors.New("message must reference exactly one of room or private chat")

type Message struct {
	ID              uuid.UUID   `gorm:"type:uuid;primaryKey"`
	RoomID          *uuid.UUID  `gorm:"type:uuid;index"`
	ChatID          *string     `gorm:"index"`
	FromUserID      uuid.UUID   `gorm:"type:uuid;not null"`
	ToUserIDs       []uuid.UUID `gorm:"serializer:json"`
	ClientMessageID string      `gorm:"index;not null"`
	Ciphertext      string      `gorm:"not null"`
	Signature       string
	CreatedAt       time.Time `gorm:"index"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (m *Message) BeforeSave(*gorm.DB) error {
	if (m.RoomID == nil) == (m.ChatID == nil) {
		return ErrChatReference
	}
	return nil
}

// ChatRef returns the room id or private chat id the message belongs to.
func (m *Message) ChatRef() string {
	if m.RoomID != nil {
		return m.RoomID.String()
	}
	if m.ChatID != nil {
		return *m.ChatID
	}
	return ""
}
