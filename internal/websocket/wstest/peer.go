// Package wstest provides an in-memory peer for tests that drive a Hub.
package wstest

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/websocket"
)

// Peer records every frame enqueued on it.
type Peer struct {
	id uuid.UUID

	mu     sync.Mutex
	frames []websocket.Frame
	closed bool
}

func NewPeer() *Peer { return &Peer{id: uuid.New()} }

func (p *Peer) ID() uuid.UUID { return p.id }

func (p *Peer) Enqueue(raw []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return websocket.ErrConnectionClosed
	}
	var frame websocket.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	p.frames = append(p.frames, frame)
	return nil
}

func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Frames returns the frames received with the given event name.
func (p *Peer) Frames(event string) []websocket.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []websocket.Frame
	for _, f := range p.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Events lists received event names in order.
func (p *Peer) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.frames))
	for i, f := range p.frames {
		out[i] = f.Event
	}
	return out
}

// Last decodes the payload of the latest frame with the given event into v
// and reports whether there was one.
func (p *Peer) Last(event string, v interface{}) bool {
	frames := p.Frames(event)
	if len(frames) == 0 {
		return false
	}
	if v != nil {
		if err := json.Unmarshal(frames[len(frames)-1].Data, v); err != nil {
			return false
		}
	}
	return true
}

// Reset drops everything recorded so far.
func (p *Peer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}
