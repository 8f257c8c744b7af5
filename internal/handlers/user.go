package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/cipherchat/internal/handlers/dto"
	"github.com/thereayou/cipherchat/internal/middleware"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/services"
)

// Online reports whether an identity has a live connection.
type Online interface {
	IsOnline(identity uuid.UUID) bool
}

type UserHandler struct {
	identities services.IdentityStore
	online     Online
	log        *zap.Logger
}

func NewUserHandler(identities services.IdentityStore, online Online, log *zap.Logger) *UserHandler {
	return &UserHandler{identities: identities, online: online, log: log.Named("users")}
}

// GetMe returns the caller's profile.
func (h *UserHandler) GetMe(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	user, err := h.identities.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	favorites, err := h.identities.FavoriteRooms(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":          h.info(user),
		"email":         user.Email,
		"favoriteRooms": favorites,
	})
}

// GetUser returns the public profile of any identity, including the key
// clients encrypt to.
func (h *UserHandler) GetUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	user, err := h.identities.GetUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, h.info(user))
}

func (h *UserHandler) info(u *models.User) dto.UserInfo {
	return dto.UserInfo{
		ID:         u.ID,
		Username:   u.Username,
		PublicKey:  u.PublicKey,
		Online:     h.online.IsOnline(u.ID),
		LastSeenAt: u.LastSeenAt,
	}
}
