package models

import (
	"time"

	"github.com/google/uuid"
)

// KeyVersion is one generation of a room's shared key. IDs only grow.
type KeyVersion struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	RoomID    uuid.UUID `gorm:"type:uuid;index;not null"`
	CreatedAt time.Time
}

// MemberKey is the shared key of one version sealed to one member.
type MemberKey struct {
	VersionID  uint64    `gorm:"primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoomID     uuid.UUID `gorm:"type:uuid;index;not null"`
	Ciphertext []byte    `gorm:"not null"`
	CreatedAt  time.Time
}
