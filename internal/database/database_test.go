package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"go.uber.org/zap"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	d, err := Connect("sqlite", dsn, zap.NewNop())
	require.NoError(t, err)

	sqlDB, err := d.DB().DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return d
}

func seedUser(t *testing.T, d *Database, name string) *models.User {
	t.Helper()
	u := &models.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "x",
		PublicKey:    make([]byte, 32),
	}
	require.NoError(t, d.SaveUser(context.Background(), u))
	return u
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	d := newTestDatabase(t)
	alice := seedUser(t, d, "alice")

	got, err := d.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
	assert.False(t, got.Active)

	require.NoError(t, d.SetActive(ctx, alice.ID, true))
	got, err = d.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)

	_, err = d.FindUserByUsername(ctx, "nobody")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	err = d.SetActive(ctx, uuid.New(), true)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestToggleFavorite(t *testing.T) {
	ctx := context.Background()
	d := newTestDatabase(t)
	alice := seedUser(t, d, "alice")
	roomID := uuid.New()

	fav, err := d.ToggleFavorite(ctx, alice.ID, roomID)
	require.NoError(t, err)
	assert.True(t, fav)

	ids, err := d.FavoriteRooms(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{roomID}, ids)

	fav, err = d.ToggleFavorite(ctx, alice.ID, roomID)
	require.NoError(t, err)
	assert.False(t, fav)

	ids, err = d.FavoriteRooms(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRoomMembershipAndAvailability(t *testing.T) {
	ctx := context.Background()
	d := newTestDatabase(t)
	alice := seedUser(t, d, "alice")
	bob := seedUser(t, d, "bob")

	open := &models.Room{Name: "general", KeepHistory: true, EncryptionScheme: models.SchemeClientKey}
	require.NoError(t, d.CreateRoom(ctx, open, alice.ID))
	secret := &models.Room{Name: "secret", MembershipRequired: true, EncryptionScheme: models.SchemeMasterKey}
	require.NoError(t, d.CreateRoom(ctx, secret, alice.ID))

	m, err := d.Membership(ctx, secret.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, m.Role)

	rooms, err := d.AvailableRooms(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "general", rooms[0].Name)

	require.NoError(t, d.UpsertMembership(ctx, &models.RoomMembership{RoomID: secret.ID, UserID: bob.ID, Role: models.RoleMember}))
	rooms, err = d.AvailableRooms(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	require.NoError(t, d.UpsertMembership(ctx, &models.RoomMembership{RoomID: secret.ID, UserID: bob.ID, Role: models.RoleAdmin}))
	m, err = d.Membership(ctx, secret.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, m.Role)

	require.NoError(t, d.SetMembershipActive(ctx, open.ID, bob.ID, true))
	require.NoError(t, d.SetMembershipActive(ctx, secret.ID, bob.ID, true))
	active, err := d.ActiveRooms(ctx, bob.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{open.ID, secret.ID}, active)

	m, err = d.Membership(ctx, secret.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, m.Role, "joining keeps the role")

	require.NoError(t, d.SetMembershipActive(ctx, open.ID, bob.ID, false))
	active, err = d.ActiveRooms(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{secret.ID}, active)

	master, err := d.ListRoomsByScheme(ctx, models.SchemeMasterKey)
	require.NoError(t, err)
	require.Len(t, master, 1)
	assert.Equal(t, secret.ID, master[0].ID)
}

func TestGetOrCreateRoomByNameKeepsFirst(t *testing.T) {
	ctx := context.Background()
	d := newTestDatabase(t)

	first, err := d.GetOrCreateRoomByName(ctx, &models.Room{Name: "lobby", Topic: "first", KeepHistory: true, EncryptionScheme: models.SchemeClientKey})
	require.NoError(t, err)
	second, err := d.GetOrCreateRoomByName(ctx, &models.Room{Name: "lobby", Topic: "second", EncryptionScheme: models.SchemeClientKey})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "first", second.Topic)
	assert.True(t, second.KeepHistory)
}

func TestGetOrCreatePrivateChatConcurrent(t *testing.T) {
	ctx := context.Background()
	d := newTestDatabase(t)
	participants := []uuid.UUID{uuid.New(), uuid.New()}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.GetOrCreatePrivateChat(ctx, &models.PrivateChat{ID: "abc", ParticipantIDs: participants})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, d.DB().Model(&models.PrivateChat{}).Where("id = ?", "abc").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	chat, err := d.GetPrivateChat(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, participants, chat.ParticipantIDs)
}

func TestMessagePaging(t *testing.T) {
	ctx := context.Background()
	d := newTestDatabase(t)
	roomID := uuid.New()
	from := uuid.New()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		rid := roomID
		require.NoError(t, d.SaveMessage(ctx, &models.Message{
			RoomID:          &rid,
			FromUserID:      from,
			ClientMessageID: fmt.Sprintf("m%d", i),
			Ciphertext:      "ct",
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}))
	}
	chatID := "chat-1"
	require.NoError(t, d.SaveMessage(ctx, &models.Message{
		ChatID:          &chatID,
		FromUserID:      from,
		ToUserIDs:       []uuid.UUID{uuid.New()},
		ClientMessageID: "p0",
		Ciphertext:      "ct",
	}))

	page, err := d.Page(ctx, services.PageQuery{Kind: services.KindRoom, ChatRef: roomID.String(), Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m3", page[0].ClientMessageID)
	assert.Equal(t, "m4", page[1].ClientMessageID)

	page, err = d.Page(ctx, services.PageQuery{Kind: services.KindRoom, ChatRef: roomID.String(), Reference: "m3", Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "m0", page[0].ClientMessageID)
	assert.Equal(t, "m2", page[2].ClientMessageID)

	page, err = d.Page(ctx, services.PageQuery{Kind: services.KindChat, ChatRef: chatID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Len(t, page[0].ToUserIDs, 1)

	_, err = d.Page(ctx, services.PageQuery{Kind: services.KindRoom, ChatRef: roomID.String(), Reference: "missing", Limit: 10})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = d.Page(ctx, services.PageQuery{Kind: "bogus", ChatRef: chatID, Limit: 10})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestSaveMessageRejectsAmbiguousReference(t *testing.T) {
	d := newTestDatabase(t)
	roomID := uuid.New()
	chatID := "chat"

	err := d.SaveMessage(context.Background(), &models.Message{RoomID: &roomID, ChatID: &chatID, FromUserID: uuid.New(), ClientMessageID: "x", Ciphertext: "c"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	err = d.SaveMessage(context.Background(), &models.Message{FromUserID: uuid.New(), ClientMessageID: "x", Ciphertext: "c"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestKeyVersions(t *testing.T) {
	ctx := context.Background()
	d := newTestDatabase(t)
	alice := seedUser(t, d, "alice")
	bob := seedUser(t, d, "bob")
	room := &models.Room{Name: "vault", EncryptionScheme: models.SchemeMasterKey}
	require.NoError(t, d.CreateRoom(ctx, room, alice.ID))

	current, err := d.CurrentVersion(ctx, room.ID)
	require.NoError(t, err)
	assert.Zero(t, current)

	v1, err := d.CreateVersion(ctx, room.ID, map[uuid.UUID][]byte{alice.ID: []byte("a1")})
	require.NoError(t, err)
	v2, err := d.CreateVersion(ctx, room.ID, map[uuid.UUID][]byte{alice.ID: []byte("a2"), bob.ID: []byte("b2")})
	require.NoError(t, err)
	assert.Greater(t, v2, v1)

	current, err = d.CurrentVersion(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, v2, current)

	versions, err := d.MemberVersions(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]uint64{alice.ID: v2, bob.ID: v2}, versions)

	key, err := d.MemberKey(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("b2"), key.Ciphertext)

	_, err = d.CreateVersion(ctx, uuid.New(), nil)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestUpdateRoomKeepsKeyVersion(t *testing.T) {
	ctx := context.Background()
	d := newTestDatabase(t)
	alice := seedUser(t, d, "alice")
	room := &models.Room{Name: "vault", EncryptionScheme: models.SchemeMasterKey}
	require.NoError(t, d.CreateRoom(ctx, room, alice.ID))

	loaded, err := d.GetRoom(ctx, room.ID)
	require.NoError(t, err)

	// a rotation commits between loading and saving the settings
	v1, err := d.CreateVersion(ctx, room.ID, map[uuid.UUID][]byte{alice.ID: []byte("a1")})
	require.NoError(t, err)

	loaded.Topic = "renamed"
	loaded.KeepHistory = true
	require.NoError(t, d.UpdateRoom(ctx, loaded))

	current, err := d.CurrentVersion(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, v1, current)

	key, err := d.MemberKey(ctx, room.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("a1"), key.Ciphertext)

	stored, err := d.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Topic)
	assert.True(t, stored.KeepHistory)
	assert.Equal(t, v1, stored.KeyVersion)

	err = d.UpdateRoom(ctx, &models.Room{ID: uuid.New(), Name: "ghost"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDuplicateUsernameIsConflict(t *testing.T) {
	d := newTestDatabase(t)
	seedUser(t, d, "alice")

	err := d.SaveUser(context.Background(), &models.User{Username: "alice", Email: "other@example.com", PasswordHash: "x", PublicKey: make([]byte, 32)})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}
