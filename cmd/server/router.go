package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thereayou/cipherchat/internal/handlers"
	"github.com/thereayou/cipherchat/internal/middleware"
	"github.com/thereayou/cipherchat/internal/services"
)

type Handlers struct {
	Auth      *handlers.AuthHandler
	Users     *handlers.UserHandler
	Rooms     *handlers.RoomHandler
	Messages  *handlers.HTTPMessageHandler
	WebSocket *handlers.WebSocketHandler
	AuthMW    services.Authenticator
	Registry  *prometheus.Registry
}

func APIEndpoints(r *gin.Engine, h Handlers) {
	requireAuth := middleware.AuthMiddleware(h.AuthMW)

	auth := r.Group("/auth")
	{
		auth.POST("/register", h.Auth.Register)
		auth.POST("/login", h.Auth.Login)
		auth.POST("/logout", requireAuth, h.Auth.Logout)
	}

	api := r.Group("/api/v1", requireAuth)
	{
		api.GET("/users/me", h.Users.GetMe)
		api.GET("/users/:id", h.Users.GetUser)

		api.GET("/rooms", h.Rooms.GetMyRooms)
		api.GET("/rooms/:id", h.Rooms.GetRoom)
		api.GET("/rooms/:id/members", h.Rooms.GetRoomMembers)

		api.GET("/chats/:type/:id/messages", h.Messages.GetMessages)
	}

	// Authentication happens in-band with the authenticate event.
	r.GET("/ws", h.WebSocket.HandleWebSocket)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{})))
}
