package keys

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/cipherchat/internal/crypto"
	"github.com/thereayou/cipherchat/internal/database"
	"github.com/thereayou/cipherchat/internal/database/dbtest"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/websocket"
	"github.com/thereayou/cipherchat/internal/websocket/wstest"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/nacl/box"
)

func newCoordinator(t *testing.T, db *database.Database, hub *websocket.Hub) *Coordinator {
	return NewCoordinator(Options{
		Rooms:      db,
		Identities: db,
		Keys:       db,
		Sealer:     crypto.NewBoxSealer(nil),
		Groups:     hub,
		Workers:    4,
		Logger:     zaptest.NewLogger(t),
	})
}

func openMemberKey(t *testing.T, c *Coordinator, room uuid.UUID, user *models.User, priv *[32]byte) []byte {
	t.Helper()
	mk, err := c.MemberKey(context.Background(), room, user.ID)
	require.NoError(t, err)
	var pub [32]byte
	copy(pub[:], user.PublicKey)
	key, ok := box.OpenAnonymous(nil, mk.Ciphertext, &pub, priv)
	require.True(t, ok)
	return key
}

func TestClientKeyRoomIsNoop(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	alice, _ := dbtest.User(t, db, "alice")
	room := &models.Room{Name: "general", EncryptionScheme: models.SchemeClientKey}
	require.NoError(t, db.CreateRoom(ctx, room, alice.ID))

	c := newCoordinator(t, db, websocket.NewHub(zaptest.NewLogger(t)))
	res, err := c.Ensure(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, res.Rotated)
	assert.Zero(t, res.Version)
}

func TestEnsureRotatesOnlyWhenStale(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	alice, alicePriv := dbtest.User(t, db, "alice")
	bob, bobPriv := dbtest.User(t, db, "bob")
	room := &models.Room{Name: "vault", EncryptionScheme: models.SchemeMasterKey}
	require.NoError(t, db.CreateRoom(ctx, room, alice.ID))

	hub := websocket.NewHub(zaptest.NewLogger(t))
	listener := wstest.NewPeer()
	hub.Register(listener)
	hub.JoinGroup(room.ID.String(), listener.ID())

	c := newCoordinator(t, db, hub)

	first, err := c.Ensure(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, first.Rotated)

	var update KeyUpdated
	require.True(t, listener.Last(EventKeyUpdated, &update))
	assert.Equal(t, first.Version, update.KeyVersion)
	assert.Equal(t, room.ID.String(), update.ChatID)

	assert.Equal(t, openMemberKey(t, c, room.ID, alice, alicePriv), openMemberKey(t, c, room.ID, bob, bobPriv))

	again, err := c.Ensure(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, again.Rotated)
	assert.Equal(t, first.Version, again.Version)
	assert.Len(t, listener.Frames(EventKeyUpdated), 1)

	carol, carolPriv := dbtest.User(t, db, "carol")
	third, err := c.Ensure(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, third.Rotated)
	assert.Greater(t, third.Version, first.Version)
	assert.Len(t, openMemberKey(t, c, room.ID, carol, carolPriv), crypto.KeySize)
}

func TestMembershipRoomSealsOnlyForMembers(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	alice, _ := dbtest.User(t, db, "alice")
	bob, _ := dbtest.User(t, db, "bob")
	room := &models.Room{Name: "inner", MembershipRequired: true, EncryptionScheme: models.SchemeMasterKey}
	require.NoError(t, db.CreateRoom(ctx, room, alice.ID))

	c := newCoordinator(t, db, websocket.NewHub(zaptest.NewLogger(t)))
	_, err := c.Ensure(ctx, room.ID)
	require.NoError(t, err)

	versions, err := db.MemberVersions(ctx, room.ID)
	require.NoError(t, err)
	assert.Contains(t, versions, alice.ID)
	assert.NotContains(t, versions, bob.ID)
}

func TestEnsureWithoutMembersIsUpToDate(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	room := &models.Room{Name: "empty", MembershipRequired: true, EncryptionScheme: models.SchemeMasterKey}
	require.NoError(t, db.CreateRoom(ctx, room, uuid.New()))

	c := newCoordinator(t, db, websocket.NewHub(zaptest.NewLogger(t)))
	res, err := c.Ensure(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, res.Rotated)
	assert.Zero(t, res.Version)
}

func TestConcurrentEnsureRotatesOnce(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	alice, _ := dbtest.User(t, db, "alice")
	dbtest.User(t, db, "bob")
	room := &models.Room{Name: "vault", EncryptionScheme: models.SchemeMasterKey}
	require.NoError(t, db.CreateRoom(ctx, room, alice.ID))

	c := newCoordinator(t, db, websocket.NewHub(zaptest.NewLogger(t)))

	var wg sync.WaitGroup
	results := make(chan Result, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Ensure(ctx, room.ID)
			assert.NoError(t, err)
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	rotated := 0
	for res := range results {
		if res.Rotated {
			rotated++
		}
	}
	assert.Equal(t, 1, rotated)

	var versions int64
	require.NoError(t, db.DB().Model(&models.KeyVersion{}).Where("room_id = ?", room.ID).Count(&versions).Error)
	assert.Equal(t, int64(1), versions)
}

func TestTriggerAndSyncAll(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	alice, _ := dbtest.User(t, db, "alice")
	a := &models.Room{Name: "a", EncryptionScheme: models.SchemeMasterKey}
	b := &models.Room{Name: "b", EncryptionScheme: models.SchemeMasterKey}
	require.NoError(t, db.CreateRoom(ctx, a, alice.ID))
	require.NoError(t, db.CreateRoom(ctx, b, alice.ID))

	c := newCoordinator(t, db, websocket.NewHub(zaptest.NewLogger(t)))
	c.Trigger(a.ID)
	c.Wait()

	current, err := db.CurrentVersion(ctx, a.ID)
	require.NoError(t, err)
	assert.NotZero(t, current)

	require.NoError(t, c.SyncAll(ctx))
	current, err = db.CurrentVersion(ctx, b.ID)
	require.NoError(t, err)
	assert.NotZero(t, current)
}
