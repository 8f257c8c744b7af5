package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/models"
)

// IdentityStore persists identities and their favorite rooms.
type IdentityStore interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	ToggleFavorite(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	FavoriteRooms(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// RoomStore persists rooms and memberships.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *models.Room, owner uuid.UUID) error
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetOrCreateRoomByName(ctx context.Context, room *models.Room) (*models.Room, error)
	UpdateRoom(ctx context.Context, room *models.Room) error
	AvailableRooms(ctx context.Context, userID uuid.UUID) ([]models.Room, error)
	Membership(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMembership, error)
	Members(ctx context.Context, roomID uuid.UUID) ([]models.RoomMembership, error)
	UpsertMembership(ctx context.Context, m *models.RoomMembership) error
	SetMembershipActive(ctx context.Context, roomID, userID uuid.UUID, active bool) error
	ActiveRooms(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	ListRoomsByScheme(ctx context.Context, scheme models.EncryptionScheme) ([]models.Room, error)
}

// ChatStore persists private chats.
type ChatStore interface {
	GetPrivateChat(ctx context.Context, id string) (*models.PrivateChat, error)
	GetOrCreatePrivateChat(ctx context.Context, chat *models.PrivateChat) (*models.PrivateChat, error)
}

type ChatKind string

const (
	KindRoom ChatKind = "room"
	KindChat ChatKind = "chat"
)

func (k ChatKind) Valid() bool { return k == KindRoom || k == KindChat }

// PageQuery selects messages of one chat older than the reference message.
// An empty Reference selects the newest page.
type PageQuery struct {
	Kind      ChatKind
	ChatRef   string
	Reference string
	Limit     int
}

// MessageStore is the append-only message log.
type MessageStore interface {
	SaveMessage(ctx context.Context, message *models.Message) error
	Page(ctx context.Context, q PageQuery) ([]models.Message, error)
}

// KeyStore persists shared key versions and their per-member ciphertexts.
type KeyStore interface {
	CurrentVersion(ctx context.Context, roomID uuid.UUID) (uint64, error)
	MemberVersions(ctx context.Context, roomID uuid.UUID) (map[uuid.UUID]uint64, error)
	// CreateVersion stores a new version and every sealed key atomically and
	// makes it the room's current version.
	CreateVersion(ctx context.Context, roomID uuid.UUID, sealed map[uuid.UUID][]byte) (uint64, error)
	MemberKey(ctx context.Context, roomID, userID uuid.UUID) (*models.MemberKey, error)
}

// TokenBlacklist tracks revoked access tokens until they expire.
type TokenBlacklist interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}
