package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/cipherchat/internal/database"
	"github.com/thereayou/cipherchat/internal/database/dbtest"
	"github.com/thereayou/cipherchat/internal/directory"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/internal/websocket"
	"github.com/thereayou/cipherchat/internal/websocket/wstest"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"go.uber.org/zap/zaptest"
)

// messageLog wraps a MessageStore and records what the watched peer had
// already received when each save happened.
type messageLog struct {
	services.MessageStore
	watch *wstest.Peer
	fail  error

	mu         sync.Mutex
	saved      []models.Message
	seenAtSave []int
}

func (m *messageLog) SaveMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watch != nil {
		m.seenAtSave = append(m.seenAtSave, len(m.watch.Events()))
	}
	if m.fail != nil {
		return m.fail
	}
	if err := m.MessageStore.SaveMessage(ctx, msg); err != nil {
		return err
	}
	m.saved = append(m.saved, *msg)
	return nil
}

type fixture struct {
	db     *database.Database
	hub    *websocket.Hub
	dir    *directory.Directory
	store  *messageLog
	router *Router
}

func newFixture(t *testing.T) *fixture {
	log := zaptest.NewLogger(t)
	db := dbtest.New(t)
	hub := websocket.NewHub(log)
	dir := directory.New(db, nil, log)
	store := &messageLog{MessageStore: db}
	return &fixture{
		db:    db,
		hub:   hub,
		dir:   dir,
		store: store,
		router: New(Options{
			Identities: dir,
			Transport:  hub,
			Rooms:      db,
			Chats:      db,
			Messages:   store,
			Logger:     log,
		}),
	}
}

func (f *fixture) connect(t *testing.T, user *models.User) *wstest.Peer {
	p := wstest.NewPeer()
	f.hub.Register(p)
	_, err := f.dir.Bind(context.Background(), user.ID, p.ID())
	require.NoError(t, err)
	return p
}

func TestChatIDIsOrderIndependent(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	id := ChatID([]uuid.UUID{a, b, c})

	assert.Equal(t, id, ChatID([]uuid.UUID{c, a, b}))
	assert.Equal(t, id, ChatID([]uuid.UUID{b, c, a, b}))
	assert.NotEqual(t, id, ChatID([]uuid.UUID{a, b}))
	assert.Len(t, id, 64)
}

func TestRoomMessageRequiresAuthentication(t *testing.T) {
	f := newFixture(t)
	anon := wstest.NewPeer()
	f.hub.Register(anon)

	_, err := f.router.RoomMessage(context.Background(), anon.ID(), RoomMessageRequest{ChatID: uuid.NewString(), MessageID: "m", Message: "ct"})
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
	assert.Equal(t, 401, apperr.HTTPStatus(err))
}

func TestRoomMessageUnknownRoom(t *testing.T) {
	f := newFixture(t)
	alice, _ := dbtest.User(t, f.db, "alice")
	a := f.connect(t, alice)

	_, err := f.router.RoomMessage(context.Background(), a.ID(), RoomMessageRequest{ChatID: uuid.NewString(), MessageID: "m", Message: "ct"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRoomMessagePersistsBeforeBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, _ := dbtest.User(t, f.db, "alice")
	bob, _ := dbtest.User(t, f.db, "bob")
	room := &models.Room{Name: "general", KeepHistory: true, EncryptionScheme: models.SchemeClientKey}
	require.NoError(t, f.db.CreateRoom(ctx, room, alice.ID))

	a := f.connect(t, alice)
	b := f.connect(t, bob)
	f.hub.JoinGroup(room.ID.String(), a.ID())
	f.hub.JoinGroup(room.ID.String(), b.ID())
	f.store.watch = b

	_, err := f.router.RoomMessage(ctx, a.ID(), RoomMessageRequest{ChatID: room.ID.String(), MessageID: "m1", Message: "ct"})
	require.NoError(t, err)

	require.Len(t, f.store.saved, 1)
	assert.Equal(t, []int{0}, f.store.seenAtSave, "nothing delivered before the save")

	var got RoomMessage
	require.True(t, b.Last(EventRoomMessage, &got))
	assert.Equal(t, alice.ID, got.FromUserID)
	assert.Equal(t, "m1", got.MessageID)
	assert.True(t, a.Last(EventRoomMessage, nil), "sender gets its own echo")
}

func TestRoomMessageWithoutHistoryIsNotStored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, _ := dbtest.User(t, f.db, "alice")
	bob, _ := dbtest.User(t, f.db, "bob")
	room := &models.Room{Name: "general", KeepHistory: false, EncryptionScheme: models.SchemeClientKey}
	require.NoError(t, f.db.CreateRoom(ctx, room, alice.ID))

	a := f.connect(t, alice)
	b := f.connect(t, bob)
	f.hub.JoinGroup(room.ID.String(), a.ID())
	f.hub.JoinGroup(room.ID.String(), b.ID())

	_, err := f.router.RoomMessage(ctx, a.ID(), RoomMessageRequest{ChatID: room.ID.String(), MessageID: "m1", Message: "ct"})
	require.NoError(t, err)

	assert.Empty(t, f.store.saved)
	assert.True(t, b.Last(EventRoomMessage, nil))
}

func TestRoomMessageStorageFailureAbortsBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, _ := dbtest.User(t, f.db, "alice")
	room := &models.Room{Name: "general", KeepHistory: true, EncryptionScheme: models.SchemeClientKey}
	require.NoError(t, f.db.CreateRoom(ctx, room, alice.ID))
	a := f.connect(t, alice)
	f.hub.JoinGroup(room.ID.String(), a.ID())
	f.store.fail = apperr.Storage("insert failed", errors.New("disk full"))

	_, err := f.router.RoomMessage(ctx, a.ID(), RoomMessageRequest{ChatID: room.ID.String(), MessageID: "m1", Message: "ct"})
	assert.True(t, errors.Is(err, apperr.ErrStorage))
	assert.Empty(t, a.Frames(EventRoomMessage))
}

func TestRoomMessageMembershipRequired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, _ := dbtest.User(t, f.db, "alice")
	mallory, _ := dbtest.User(t, f.db, "mallory")
	room := &models.Room{Name: "inner", MembershipRequired: true, EncryptionScheme: models.SchemeClientKey}
	require.NoError(t, f.db.CreateRoom(ctx, room, alice.ID))
	m := f.connect(t, mallory)

	_, err := f.router.RoomMessage(ctx, m.ID(), RoomMessageRequest{ChatID: room.ID.String(), MessageID: "m1", Message: "ct"})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
}

func TestPrivateMessageDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, _ := dbtest.User(t, f.db, "alice")
	bob, _ := dbtest.User(t, f.db, "bob")
	a1 := f.connect(t, alice)
	a2 := f.connect(t, alice)
	b1 := f.connect(t, bob)
	outsider := f.connect(t, &models.User{ID: uuid.New()})

	chatID := ChatID([]uuid.UUID{bob.ID, alice.ID})
	out, err := f.router.PrivateMessage(ctx, a1.ID(), PrivateMessageRequest{
		ChatID:    chatID,
		ToUserIDs: []uuid.UUID{bob.ID},
		MessageID: "p1",
		Message:   "ct",
		Signature: "sig",
	})
	require.NoError(t, err)
	assert.Equal(t, chatID, out.ChatID)
	assert.Equal(t, []uuid.UUID{bob.ID}, out.ToUserIDs)

	assert.Len(t, a1.Frames(EventPrivateMessage), 1, "sender echo exactly once")
	assert.Len(t, a2.Frames(EventPrivateMessage), 1)
	assert.Len(t, b1.Frames(EventPrivateMessage), 1)
	assert.Empty(t, outsider.Frames(EventPrivateMessage))

	require.Len(t, f.store.saved, 1)
	assert.Equal(t, chatID, *f.store.saved[0].ChatID)
}

func TestPrivateMessageToOfflineParticipantIsStored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, _ := dbtest.User(t, f.db, "alice")
	bob, _ := dbtest.User(t, f.db, "bob")
	a := f.connect(t, alice)

	_, err := f.router.PrivateMessage(ctx, a.ID(), PrivateMessageRequest{ToUserIDs: []uuid.UUID{bob.ID}, MessageID: "p1", Message: "ct"})
	require.NoError(t, err)

	page, err := f.db.Page(ctx, services.PageQuery{Kind: services.KindChat, ChatRef: ChatID([]uuid.UUID{alice.ID, bob.ID}), Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "p1", page[0].ClientMessageID)
	assert.Len(t, a.Frames(EventPrivateMessage), 1)
}

func TestPrivateMessageRejectsMismatchedChatID(t *testing.T) {
	f := newFixture(t)
	alice, _ := dbtest.User(t, f.db, "alice")
	a := f.connect(t, alice)

	_, err := f.router.PrivateMessage(context.Background(), a.ID(), PrivateMessageRequest{
		ChatID:    "deadbeef",
		ToUserIDs: []uuid.UUID{uuid.New()},
		MessageID: "p1",
		Message:   "ct",
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.router.PrivateMessage(context.Background(), a.ID(), PrivateMessageRequest{
		ToUserIDs: []uuid.UUID{alice.ID},
		MessageID: "p1",
		Message:   "ct",
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation), "a chat with oneself only")
}

func TestConcurrentFirstMessagesShareOneChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, _ := dbtest.User(t, f.db, "alice")
	bob, _ := dbtest.User(t, f.db, "bob")
	a := f.connect(t, alice)
	b := f.connect(t, bob)

	var wg sync.WaitGroup
	send := func(conn uuid.UUID, to uuid.UUID, id string) {
		defer wg.Done()
		_, err := f.router.PrivateMessage(ctx, conn, PrivateMessageRequest{ToUserIDs: []uuid.UUID{to}, MessageID: id, Message: "ct"})
		assert.NoError(t, err)
	}
	wg.Add(2)
	go send(a.ID(), bob.ID, "from-alice")
	go send(b.ID(), alice.ID, "from-bob")
	wg.Wait()

	var chats int64
	require.NoError(t, f.db.DB().Model(&models.PrivateChat{}).Count(&chats).Error)
	assert.Equal(t, int64(1), chats)
}
