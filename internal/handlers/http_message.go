package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/cipherchat/internal/handlers/dto"
	"github.com/thereayou/cipherchat/internal/middleware"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/pkg/apperr"
)

const maxPageSize = 100

// HTTPMessageHandler serves message history over REST. Sending stays on the
// websocket so that every message goes through the router.
type HTTPMessageHandler struct {
	rooms    services.RoomStore
	chats    services.ChatStore
	messages services.MessageStore
	pageSize int
	log      *zap.Logger
}

func NewHTTPMessageHandler(rooms services.RoomStore, chats services.ChatStore, messages services.MessageStore, pageSize int, log *zap.Logger) *HTTPMessageHandler {
	return &HTTPMessageHandler{rooms: rooms, chats: chats, messages: messages, pageSize: pageSize, log: log.Named("history")}
}

// GetMessages returns one page of a room or private chat, oldest first.
// ?before=<messageId> pages backwards, ?limit caps the page size.
func (h *HTTPMessageHandler) GetMessages(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	kind := services.ChatKind(c.Param("type"))
	ref := c.Param("id")

	if err := h.authorize(c, kind, ref, userID); err != nil {
		respondError(c, h.log, err)
		return
	}

	limit := h.pageSize
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxPageSize {
			limit = parsed
		}
	}

	messages, err := h.messages.Page(c.Request.Context(), services.PageQuery{
		Kind:      kind,
		ChatRef:   ref,
		Reference: c.Query("before"),
		Limit:     limit,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	result := make([]dto.MessageResponse, len(messages))
	for i := range messages {
		result[i] = dto.NewMessageResponse(&messages[i])
	}
	c.JSON(http.StatusOK, gin.H{
		"chatId":   ref,
		"messages": result,
		"has_more": len(messages) == limit,
	})
}

func (h *HTTPMessageHandler) authorize(c *gin.Context, kind services.ChatKind, ref string, userID uuid.UUID) error {
	ctx := c.Request.Context()
	switch kind {
	case services.KindRoom:
		roomID, err := uuid.Parse(ref)
		if err != nil {
			return apperr.Validation("invalid room id")
		}
		room, err := h.rooms.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if !room.MembershipRequired {
			return nil
		}
		if _, err := h.rooms.Membership(ctx, roomID, userID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.Forbidden("you are not a member of this room")
			}
			return err
		}
		return nil
	case services.KindChat:
		chat, err := h.chats.GetPrivateChat(ctx, ref)
		if err != nil {
			return err
		}
		if !chat.HasParticipant(userID) {
			return apperr.Forbidden("you are not a participant of this chat")
		}
		return nil
	default:
		return apperr.Validation("type must be room or chat")
	}
}
