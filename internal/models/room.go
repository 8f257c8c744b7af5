package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EncryptionScheme string

const (
	SchemeClientKey EncryptionScheme = "clientKey"
	SchemeMasterKey EncryptionScheme = "masterKey"
)

func (s EncryptionScheme) Valid() bool {
	return s == SchemeClientKey || s == SchemeMasterKey
}

type Room struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primaryKey"`
	Name               string           `gorm:"uniqueIndex;not null"`
	Topic              string
	MembershipRequired bool             `gorm:"not null;default:false"`
	KeepHistory        bool             `gorm:"not null"`
	EncryptionScheme   EncryptionScheme `gorm:"not null;default:'clientKey'"`
	KeyVersion         uint64           `gorm:"not null;default:0"`
	CreatedBy          uuid.UUID        `gorm:"type:uuid"`
	CreatedAt          time.Time
}

func (r *Room) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleMember     Role = "member"
	RoleSubscriber Role = "subscriber"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleSubscriber:
		return true
	}
	return false
}

// CanManage reports whether the role may change room settings and membership.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

// RoomMembership links a user to a room. Active is set while the user is joined.
type RoomMembership struct {
	RoomID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	Role     Role      `gorm:"not null;default:'member'"`
	Active   bool      `gorm:"not null;default:false"`
	JoinedAt time.Time
}
