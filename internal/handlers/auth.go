package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/thereayou/cipherchat/internal/crypto"
	"github.com/thereayou/cipherchat/internal/handlers/dto"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"github.com/thereayou/cipherchat/pkg/auth"
)

type AuthHandler struct {
	identities services.IdentityStore
	jwtManager *auth.JWTManager
	blacklist  services.TokenBlacklist
	log        *zap.Logger
}

func NewAuthHandler(identities services.IdentityStore, jwtMgr *auth.JWTManager, blacklist services.TokenBlacklist, log *zap.Logger) *AuthHandler {
	return &AuthHandler{identities: identities, jwtManager: jwtMgr, blacklist: blacklist, log: log.Named("auth")}
}

// Register stores a new identity with its public key and returns a token.
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	publicKey, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "publicKey must be base64"})
		return
	}
	if err := crypto.ValidatePublicKey(publicKey); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error("failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot hash password"})
		return
	}

	user := &models.User{
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.ToLower(req.Email),
		PasswordHash: string(hash),
		PublicKey:    publicKey,
		CreatedAt:    time.Now(),
	}
	if err := h.identities.SaveUser(c.Request.Context(), user); err != nil {
		if apperr.CodeOf(err) == apperr.CodeConflict {
			c.JSON(http.StatusConflict, gin.H{"error": "username or email already taken"})
			return
		}
		respondError(c, h.log, err)
		return
	}
	h.log.Info("identity registered", zap.Stringer("identity", user.ID), zap.String("username", user.Username))

	h.issue(c, http.StatusCreated, user)
}

// Login exchanges credentials for a token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.identities.FindUserByEmail(c.Request.Context(), strings.ToLower(req.Email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		respondError(c, h.log, err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	h.issue(c, http.StatusOK, user)
}

// Logout blacklists the token until it would have expired.
func (h *AuthHandler) Logout(c *gin.Context) {
	rawToken, err := auth.ExtractTokenFromHeader(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exp, err := h.jwtManager.Expiry(rawToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if err := h.blacklist.Revoke(c.Request.Context(), rawToken, time.Until(exp)); err != nil {
		respondError(c, h.log, apperr.Storage("failed to revoke token", err))
		return
	}
	c.Status(http.StatusOK)
}

func (h *AuthHandler) issue(c *gin.Context, status int, user *models.User) {
	token, err := h.jwtManager.Issue(user.ID)
	if err != nil {
		h.log.Error("failed to sign token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate token"})
		return
	}
	c.JSON(status, dto.TokenResponse{
		UID:            user.ID.String(),
		Token:          token.Value,
		TokenExpiresAt: token.ExpiresAt,
	})
}

func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}
