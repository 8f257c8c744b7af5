package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"github.com/thereayou/cipherchat/pkg/auth"
)

const (
	UserIDKey = "userID"
	TokenKey  = "token"
)

// AuthMiddleware verifies the bearer token, rejects revoked tokens and stores
// the caller's id and raw token in the gin context.
func AuthMiddleware(authn services.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractTokenFromHeader(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}

		user, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
			return
		}

		c.Set(UserIDKey, user.ID)
		c.Set(TokenKey, token)
		c.Next()
	}
}
