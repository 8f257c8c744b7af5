package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/cipherchat/internal/handlers/dto"
	"github.com/thereayou/cipherchat/internal/middleware"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/pkg/apperr"
)

// Presence reports the identities currently joined to a room.
type Presence interface {
	Present(room string) []uuid.UUID
}

// RoomHandler is the read side of rooms. Rooms are created and changed over
// the websocket so that updates reach every live connection.
type RoomHandler struct {
	rooms      services.RoomStore
	identities services.IdentityStore
	presence   Presence
	online     Online
	log        *zap.Logger
}

func NewRoomHandler(rooms services.RoomStore, identities services.IdentityStore, presence Presence, online Online, log *zap.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, identities: identities, presence: presence, online: online, log: log.Named("rooms")}
}

// GetMyRooms lists the rooms visible to the caller.
func (h *RoomHandler) GetMyRooms(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	rooms, err := h.rooms.AvailableRooms(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	result := make([]dto.RoomInfo, len(rooms))
	for i := range rooms {
		result[i] = dto.NewRoomInfo(&rooms[i], len(h.presence.Present(rooms[i].ID.String())))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": result})
}

// GetRoom returns one room with the identities currently joined to it.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, ok := h.visibleRoom(c)
	if !ok {
		return
	}
	present := h.presence.Present(room.ID.String())
	c.JSON(http.StatusOK, gin.H{
		"room":        dto.NewRoomInfo(room, len(present)),
		"activeUsers": present,
	})
}

// GetRoomMembers lists the members of a room with their roles.
func (h *RoomHandler) GetRoomMembers(c *gin.Context) {
	room, ok := h.visibleRoom(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	memberships, err := h.rooms.Members(ctx, room.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	members := make([]dto.MemberInfo, 0, len(memberships))
	for _, m := range memberships {
		user, err := h.identities.GetUser(ctx, m.UserID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			respondError(c, h.log, err)
			return
		}
		members = append(members, dto.MemberInfo{
			UserInfo: dto.UserInfo{
				ID:         user.ID,
				Username:   user.Username,
				PublicKey:  user.PublicKey,
				Online:     h.online.IsOnline(user.ID),
				LastSeenAt: user.LastSeenAt,
			},
			Role:   m.Role,
			Joined: m.Active,
		})
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// visibleRoom loads the room named by :id and writes the error response when
// the caller may not see it.
func (h *RoomHandler) visibleRoom(c *gin.Context) (*models.Room, bool) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return nil, false
	}

	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, h.log, err)
		return nil, false
	}
	if room.MembershipRequired {
		if _, err := h.rooms.Membership(c.Request.Context(), room.ID, userID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				err = apperr.Forbidden("you are not a member of this room")
			}
			respondError(c, h.log, err)
			return nil, false
		}
	}
	return room, true
}
