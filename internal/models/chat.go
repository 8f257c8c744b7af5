package models

import (
	"time"

	"github.com/google/uuid"
)

// PrivateChat is addressed by a hash of its participant set, so it has no
// generated id.
type PrivateChat struct {
	ID             string      `gorm:"primaryKey"`
	ParticipantIDs []uuid.UUID `gorm:"serializer:json;not null"`
	CreatedAt      time.Time
}

func (c *PrivateChat) HasParticipant(id uuid.UUID) bool {
	for _, p := range c.ParticipantIDs {
		if p == id {
			return true
		}
	}
	return false
}
