// Package keys keeps the shared key of master-key rooms current for every
// known member.
package keys

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/crypto"
	"github.com/thereayou/cipherchat/internal/keylock"
	"github.com/thereayou/cipherchat/internal/metrics"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/internal/websocket"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	EventKeyUpdated = "keyUpdated"

	triggerTimeout = 30 * time.Second
)

// Broadcaster delivers a frame to a room's live group.
type Broadcaster interface {
	SendToGroup(group string, frame []byte)
}

type KeyUpdated struct {
	ChatID     string `json:"chatId"`
	KeyVersion uint64 `json:"keyVersion"`
}

// Result reports the outcome of Ensure.
type Result struct {
	Rotated bool
	Version uint64
}

type Coordinator struct {
	rooms      services.RoomStore
	identities services.IdentityStore
	keys       services.KeyStore
	sealer     crypto.Sealer
	groups     Broadcaster
	workers    int

	roomLocks *keylock.Map[uuid.UUID]
	pending   sync.WaitGroup

	metrics *metrics.Metrics
	log     *zap.Logger
}

type Options struct {
	Rooms      services.RoomStore
	Identities services.IdentityStore
	Keys       services.KeyStore
	Sealer     crypto.Sealer
	Groups     Broadcaster
	Workers    int
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

func NewCoordinator(opts Options) *Coordinator {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Coordinator{
		rooms:      opts.Rooms,
		identities: opts.Identities,
		keys:       opts.Keys,
		sealer:     opts.Sealer,
		groups:     opts.Groups,
		workers:    workers,
		roomLocks:  keylock.New[uuid.UUID](),
		metrics:    opts.Metrics,
		log:        opts.Logger.Named("keys"),
	}
}

// Ensure checks that every known member of the room holds the current shared
// key and rotates it when one does not. Calls for the same room are
// serialized and re-check after acquiring the lock, so concurrent triggers of
// one stale episode produce a single new version. Client-key rooms are left
// alone.
func (c *Coordinator) Ensure(ctx context.Context, roomID uuid.UUID) (Result, error) {
	unlock := c.roomLocks.Lock(roomID)
	defer unlock()

	room, err := c.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return Result{}, err
	}
	if room.EncryptionScheme != models.SchemeMasterKey {
		return Result{Version: room.KeyVersion}, nil
	}

	members, err := c.knownMembers(ctx, room)
	if err != nil {
		c.metrics.Rotation("failed")
		return Result{}, err
	}

	current, err := c.keys.CurrentVersion(ctx, roomID)
	if err != nil {
		c.metrics.Rotation("failed")
		return Result{}, err
	}
	if len(members) == 0 {
		c.metrics.Rotation("up_to_date")
		return Result{Version: current}, nil
	}

	stale, err := c.isStale(ctx, roomID, current, members)
	if err != nil {
		c.metrics.Rotation("failed")
		return Result{}, err
	}
	if !stale {
		c.metrics.Rotation("up_to_date")
		return Result{Version: current}, nil
	}

	version, err := c.rotate(ctx, roomID, members)
	if err != nil {
		c.metrics.Rotation("failed")
		c.log.Error("key rotation failed", zap.Stringer("room", roomID), zap.Error(err))
		return Result{}, err
	}
	c.metrics.Rotation("rotated")
	c.log.Info("room key rotated",
		zap.Stringer("room", roomID),
		zap.Uint64("version", version),
		zap.Int("members", len(members)))

	frame, err := websocket.Encode(EventKeyUpdated, KeyUpdated{ChatID: roomID.String(), KeyVersion: version})
	if err == nil {
		c.groups.SendToGroup(roomID.String(), frame)
	}
	return Result{Rotated: true, Version: version}, nil
}

// Trigger runs Ensure in the background. Failures are logged.
func (c *Coordinator) Trigger(roomID uuid.UUID) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
		defer cancel()
		if _, err := c.Ensure(ctx, roomID); err != nil {
			c.log.Warn("background key check failed", zap.Stringer("room", roomID), zap.Error(err))
		}
	}()
}

// Wait blocks until every triggered check has finished.
func (c *Coordinator) Wait() {
	c.pending.Wait()
}

// SyncAll ensures the key of every master-key room.
func (c *Coordinator) SyncAll(ctx context.Context) error {
	rooms, err := c.rooms.ListRoomsByScheme(ctx, models.SchemeMasterKey)
	if err != nil {
		return err
	}
	var errs []error
	for _, room := range rooms {
		if _, err := c.Ensure(ctx, room.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemberKey returns the caller's sealed copy of the room's current key.
func (c *Coordinator) MemberKey(ctx context.Context, roomID, userID uuid.UUID) (*models.MemberKey, error) {
	return c.keys.MemberKey(ctx, roomID, userID)
}

// knownMembers is the member list for membership-required rooms and every
// registered identity otherwise.
func (c *Coordinator) knownMembers(ctx context.Context, room *models.Room) ([]models.User, error) {
	users, err := c.identities.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if !room.MembershipRequired {
		return users, nil
	}

	memberships, err := c.rooms.Members(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	ids := make(map[uuid.UUID]struct{}, len(memberships))
	for _, m := range memberships {
		ids[m.UserID] = struct{}{}
	}
	members := make([]models.User, 0, len(memberships))
	for _, u := range users {
		if _, ok := ids[u.ID]; ok {
			members = append(members, u)
		}
	}
	return members, nil
}

func (c *Coordinator) isStale(ctx context.Context, roomID uuid.UUID, current uint64, members []models.User) (bool, error) {
	if current == 0 {
		return true, nil
	}
	versions, err := c.keys.MemberVersions(ctx, roomID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if versions[m.ID] != current {
			return true, nil
		}
	}
	return false, nil
}

// rotate generates a key, seals it for every member and stores the version.
// The version becomes current only when the store commits all copies.
func (c *Coordinator) rotate(ctx context.Context, roomID uuid.UUID, members []models.User) (uint64, error) {
	roomKey, err := c.sealer.GenerateKey()
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "failed to generate room key", err)
	}

	var mu sync.Mutex
	sealed := make(map[uuid.UUID][]byte, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, member := range members {
		member := member
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ct, err := c.sealer.Seal(roomKey, member.PublicKey)
			if err != nil {
				return apperr.Wrap(apperr.CodeValidationFailed, "cannot seal key for "+member.Username, err)
			}
			mu.Lock()
			sealed[member.ID] = ct
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	return c.keys.CreateVersion(ctx, roomID, sealed)
}
