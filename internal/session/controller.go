package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/websocket"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"go.uber.org/zap"
)

const eventTimeout = 15 * time.Second

type State int

const (
	Unauthenticated State = iota
	Authenticated
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Session is the authenticated identity bound to one connection. Handlers
// receive it explicitly.
type Session struct {
	ConnID uuid.UUID
	User   *models.User
}

// Controller is the state machine of one connection:
// Unauthenticated -> Authenticated -> Closed.
type Controller struct {
	svc  *Service
	peer websocket.Peer

	mu    sync.Mutex
	state State
	user  *models.User

	log *zap.Logger
}

var _ websocket.FrameHandler = (*Controller)(nil)

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Authenticated {
		return Session{}, false
	}
	return Session{ConnID: c.peer.ID(), User: c.user}, true
}

// HandleFrame decodes and dispatches one inbound frame. Every failure is
// answered with a single errorMessage to this connection.
func (c *Controller) HandleFrame(frame websocket.Frame) {
	if frame.Event != "authenticate" {
		if _, ok := c.session(); !ok {
			c.fail(frame.Event, apperr.Unauthorized("authenticate first"))
			return
		}
	}

	ev, err := Decode(frame.Event, frame.Data)
	if err != nil {
		c.fail(frame.Event, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	start := time.Now()
	err = c.Dispatch(ctx, ev)
	c.svc.Metrics.ObserveEvent(ev.event(), time.Since(start))
	if err != nil {
		c.fail(ev.event(), err)
	}
}

func (c *Controller) HandleDecodeError(err error) {
	c.fail("", apperr.Wrap(apperr.CodeValidationFailed, "invalid frame", err))
}

func (c *Controller) HandleClose() {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	c.Close(ctx)
}

// Dispatch routes a decoded event to its handler. Everything but
// authenticate needs an authenticated session.
func (c *Controller) Dispatch(ctx context.Context, ev Inbound) error {
	if a, ok := ev.(*Authenticate); ok {
		return c.authenticate(ctx, a)
	}

	sess, ok := c.session()
	if !ok {
		return apperr.Unauthorized("authenticate first")
	}

	switch e := ev.(type) {
	case *CheckUsername:
		return c.checkUsername(ctx, e)
	case *Join:
		return c.join(ctx, sess, e)
	case *Part:
		return c.part(ctx, sess, e)
	case *CreateRoom:
		return c.createRoom(ctx, sess, e)
	case *UpdateRoom:
		return c.updateRoom(ctx, sess, e)
	case *Membership:
		return c.membership(ctx, sess, e)
	case *RoomMessage:
		_, err := c.svc.Router.RoomMessage(ctx, sess.ConnID, e.RoomMessageRequest)
		return err
	case *PrivateMessage:
		_, err := c.svc.Router.PrivateMessage(ctx, sess.ConnID, e.PrivateMessageRequest)
		return err
	case *GetChat:
		return c.getChat(ctx, sess, e)
	case *GetPreviousPage:
		return c.getPreviousPage(ctx, sess, e)
	case *ToggleFavorite:
		return c.toggleFavorite(ctx, sess, e)
	case *GetRoomKey:
		return c.getRoomKey(ctx, sess, e)
	default:
		return apperr.Validation("unsupported event " + ev.event())
	}
}

// Close tears the connection down. When it was the identity's last
// connection the identity goes offline, leaves every room it had joined and
// the userlist is republished.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	wasAuthenticated := c.state == Authenticated
	c.state = Closed
	c.mu.Unlock()

	connID := c.peer.ID()
	groups := c.svc.Transport.Unregister(connID)
	c.svc.Metrics.ConnectionClosed()
	if !wasAuthenticated {
		return
	}

	unbound, ok := c.svc.Directory.Unbind(ctx, connID)
	c.svc.Presence.Recompute(groups...)
	if !ok {
		return
	}
	for _, g := range groups {
		if err := c.svc.markParted(ctx, g, unbound.Identity, c.svc.Presence.Present(g)); err != nil {
			c.log.Warn("failed to part room on disconnect", zap.String("room", g), zap.Error(err))
		}
	}
	if !unbound.Last {
		return
	}

	c.svc.broadcastUserlist(ctx)

	rooms, err := c.svc.Rooms.ActiveRooms(ctx, unbound.Identity)
	if err != nil {
		c.log.Error("failed to load joined rooms on disconnect", zap.Error(err))
		return
	}
	done := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		done[g] = struct{}{}
	}
	for _, roomID := range rooms {
		if err := c.svc.Rooms.SetMembershipActive(ctx, roomID, unbound.Identity, false); err != nil {
			c.log.Warn("failed to part room on disconnect", zap.Stringer("room", roomID), zap.Error(err))
		}
		if _, ok := done[roomID.String()]; !ok {
			c.svc.Presence.Recompute(roomID.String())
		}
	}
	c.log.Info("identity went offline", zap.Stringer("identity", unbound.Identity), zap.Int("rooms", len(rooms)))
}

func (c *Controller) reply(event string, data interface{}) {
	c.svc.send([]uuid.UUID{c.peer.ID()}, event, data)
}

func (c *Controller) fail(event string, err error) {
	code := apperr.CodeOf(err)
	c.svc.Metrics.EventError(string(code))

	fields := []zap.Field{zap.String("event", event), zap.String("code", string(code)), zap.Error(err)}
	switch code {
	case apperr.CodeStorageFailure, apperr.CodeInternal:
		c.log.Error("event failed", fields...)
	default:
		c.log.Debug("event rejected", fields...)
	}

	c.reply(EventError, ErrorMessage{
		Event:   event,
		Code:    apperr.HTTPStatus(err),
		Message: apperr.Message(err),
	})
}
