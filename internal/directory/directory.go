// Package directory indexes live connections by identity and back.
package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/keylock"
	"github.com/thereayou/cipherchat/internal/metrics"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"go.uber.org/zap"
)

// ActivityRecorder persists the global active flag of an identity.
type ActivityRecorder interface {
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Unbound describes a removed connection.
type Unbound struct {
	Identity uuid.UUID
	// Last is set when the identity has no connection left.
	Last bool
}

// Directory maps identity -> {connection} and connection -> identity.
//
// Mutations for one identity are serialized, so the first bind and the last
// unbind observe each other and the active flag is written in the same order.
type Directory struct {
	mu         sync.RWMutex
	byIdentity map[uuid.UUID]map[uuid.UUID]struct{}
	byConn     map[uuid.UUID]uuid.UUID

	identityLocks *keylock.Map[uuid.UUID]
	activity      ActivityRecorder
	metrics       *metrics.Metrics
	log           *zap.Logger
}

func New(activity ActivityRecorder, m *metrics.Metrics, log *zap.Logger) *Directory {
	return &Directory{
		byIdentity:    make(map[uuid.UUID]map[uuid.UUID]struct{}),
		byConn:        make(map[uuid.UUID]uuid.UUID),
		identityLocks: keylock.New[uuid.UUID](),
		activity:      activity,
		metrics:       m,
		log:           log.Named("directory"),
	}
}

// Bind registers connID under identity and reports whether it is the
// identity's first live connection. Binding the same pair again is a no-op.
// A connection bound to a different identity is rejected.
func (d *Directory) Bind(ctx context.Context, identity, connID uuid.UUID) (bool, error) {
	unlock := d.identityLocks.Lock(identity)
	defer unlock()

	d.mu.Lock()
	if owner, ok := d.byConn[connID]; ok {
		d.mu.Unlock()
		if owner == identity {
			return false, nil
		}
		return false, apperr.Conflict("connection is bound to another identity")
	}
	conns, ok := d.byIdentity[identity]
	if !ok {
		conns = make(map[uuid.UUID]struct{})
		d.byIdentity[identity] = conns
	}
	first := len(conns) == 0
	conns[connID] = struct{}{}
	d.byConn[connID] = identity
	d.mu.Unlock()

	if first {
		d.metrics.IdentityOnline()
		if err := d.activity.SetActive(ctx, identity, true); err != nil {
			d.log.Warn("failed to mark identity active", zap.Stringer("identity", identity), zap.Error(err))
		}
	}
	d.log.Debug("connection bound",
		zap.Stringer("identity", identity),
		zap.Stringer("conn", connID),
		zap.Bool("first", first))
	return first, nil
}

// Unbind removes connID. Unknown connections report false and change nothing.
func (d *Directory) Unbind(ctx context.Context, connID uuid.UUID) (Unbound, bool) {
	identity, ok := d.IdentityFor(connID)
	if !ok {
		return Unbound{}, false
	}

	unlock := d.identityLocks.Lock(identity)
	defer unlock()

	d.mu.Lock()
	// a concurrent Unbind for the same connection may have won
	if owner, ok := d.byConn[connID]; !ok || owner != identity {
		d.mu.Unlock()
		return Unbound{}, false
	}
	delete(d.byConn, connID)
	conns := d.byIdentity[identity]
	delete(conns, connID)
	last := len(conns) == 0
	if last {
		delete(d.byIdentity, identity)
	}
	d.mu.Unlock()

	if last {
		d.metrics.IdentityOffline()
		if err := d.activity.SetActive(ctx, identity, false); err != nil {
			d.log.Warn("failed to mark identity inactive", zap.Stringer("identity", identity), zap.Error(err))
		}
	}
	d.log.Debug("connection unbound",
		zap.Stringer("identity", identity),
		zap.Stringer("conn", connID),
		zap.Bool("last", last))
	return Unbound{Identity: identity, Last: last}, true
}

// ConnectionsFor returns a snapshot of the identity's live connections.
func (d *Directory) ConnectionsFor(identity uuid.UUID) []uuid.UUID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	conns := make([]uuid.UUID, 0, len(d.byIdentity[identity]))
	for id := range d.byIdentity[identity] {
		conns = append(conns, id)
	}
	return conns
}

// ConnectionsForAll returns the live connections of every listed identity,
// each connection once.
func (d *Directory) ConnectionsForAll(identities []uuid.UUID) []uuid.UUID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	conns := make([]uuid.UUID, 0, len(identities))
	for _, identity := range identities {
		for id := range d.byIdentity[identity] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			conns = append(conns, id)
		}
	}
	return conns
}

func (d *Directory) IdentityFor(connID uuid.UUID) (uuid.UUID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.byConn[connID]
	return identity, ok
}

// IsOnline reports whether the identity has at least one live connection.
func (d *Directory) IsOnline(identity uuid.UUID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byIdentity[identity]) > 0
}

// OnlineIdentities lists identities with a live connection, sorted.
func (d *Directory) OnlineIdentities() []uuid.UUID {
	d.mu.RLock()
	ids := make([]uuid.UUID, 0, len(d.byIdentity))
	for id := range d.byIdentity {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
