package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Peer is one live connection as seen by the hub.
type Peer interface {
	ID() uuid.UUID
	Enqueue(frame []byte) error
	Close()
}

// Hub owns the live connections and the transport level groups they joined.
// Groups are keyed by chat id; membership is per connection, not per identity.
type Hub struct {
	peers map[uuid.UUID]Peer

	// group -> connections
	groups map[string]map[uuid.UUID]struct{}

	// connection -> groups, kept in step with groups
	joined map[uuid.UUID]map[string]struct{}

	mu  sync.RWMutex
	log *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		peers:  make(map[uuid.UUID]Peer),
		groups: make(map[string]map[uuid.UUID]struct{}),
		joined: make(map[uuid.UUID]map[string]struct{}),
		log:    log.Named("hub"),
	}
}

// Run sends a heartbeat frame to every peer until ctx is done, then closes them.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			if frame, err := Encode("ping", nil); err == nil {
				h.Broadcast(frame)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	peers := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.Close()
	}
}

// Register adds a peer. Registering the same id twice replaces the peer.
func (h *Hub) Register(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.peers[p.ID()] = p
	if _, ok := h.joined[p.ID()]; !ok {
		h.joined[p.ID()] = make(map[string]struct{})
	}
	h.log.Debug("peer registered", zap.Stringer("conn", p.ID()), zap.Int("peers", len(h.peers)))
}

// Unregister removes the peer from the hub and every group, returning the
// groups it was in. Unknown ids are ignored.
func (h *Hub) Unregister(connID uuid.UUID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[connID]; !ok {
		return nil
	}

	left := make([]string, 0, len(h.joined[connID]))
	for group := range h.joined[connID] {
		h.leaveLocked(group, connID)
		left = append(left, group)
	}
	delete(h.joined, connID)
	delete(h.peers, connID)

	sort.Strings(left)
	h.log.Debug("peer unregistered", zap.Stringer("conn", connID), zap.Strings("groups", left))
	return left
}

// JoinGroup adds a registered connection to a group. It reports false for
// unknown connections.
func (h *Hub) JoinGroup(group string, connID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[connID]; !ok {
		return false
	}
	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[uuid.UUID]struct{})
	}
	h.groups[group][connID] = struct{}{}
	h.joined[connID][group] = struct{}{}
	return true
}

// LeaveGroup removes a connection from a group and reports whether it was in it.
func (h *Hub) LeaveGroup(group string, connID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(group, connID)
}

func (h *Hub) leaveLocked(group string, connID uuid.UUID) bool {
	members, ok := h.groups[group]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	if groups, ok := h.joined[connID]; ok {
		delete(groups, group)
	}
	return true
}

// GroupMembers returns a snapshot of the connections in a group.
func (h *Hub) GroupMembers(group string) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]uuid.UUID, 0, len(h.groups[group]))
	for connID := range h.groups[group] {
		members = append(members, connID)
	}
	return members
}

// GroupsOf returns the groups a connection is in.
func (h *Hub) GroupsOf(connID uuid.UUID) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	groups := make([]string, 0, len(h.joined[connID]))
	for group := range h.joined[connID] {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups
}

// InGroup reports whether the connection is in the group.
func (h *Hub) InGroup(group string, connID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.groups[group][connID]
	return ok
}

// Count returns the number of live peers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// SendTo enqueues frame on each listed connection. Gone connections are skipped.
func (h *Hub) SendTo(connIDs []uuid.UUID, frame []byte) {
	h.mu.RLock()
	targets := make([]Peer, 0, len(connIDs))
	for _, id := range connIDs {
		if p, ok := h.peers[id]; ok {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, frame)
}

// SendToGroup enqueues frame on every connection of the group.
func (h *Hub) SendToGroup(group string, frame []byte) {
	h.mu.RLock()
	targets := make([]Peer, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		if p, ok := h.peers[id]; ok {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, frame)
}

// Broadcast enqueues frame on every live connection.
func (h *Hub) Broadcast(frame []byte) {
	h.mu.RLock()
	targets := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	h.deliver(targets, frame)
}

func (h *Hub) deliver(targets []Peer, frame []byte) {
	for _, p := range targets {
		if err := p.Enqueue(frame); err != nil && err != ErrConnectionClosed {
			h.log.Warn("dropping frame", zap.Stringer("conn", p.ID()), zap.Error(err))
		}
	}
}
