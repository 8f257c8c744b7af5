package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thereayou/cipherchat/internal/session"
	ws "github.com/thereayou/cipherchat/internal/websocket"
)

// WebSocketHandler upgrades connections and hands them to a session
// controller.
type WebSocketHandler struct {
	sessions *session.Service
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewWebSocketHandler(sessions *session.Service, allowedOrigins []string, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log.Named("ws"),
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and, when allowed is not empty, only the listed browser origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(set) == 0 || origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}

// HandleWebSocket upgrades the request. The connection starts
// unauthenticated; a ?token= query parameter is treated as an immediate
// authenticate event.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(conn, h.log)
	ctrl := h.sessions.Open(client)

	go client.WritePump()

	if token := c.Query("token"); token != "" {
		data, _ := json.Marshal(session.Authenticate{Token: token})
		ctrl.HandleFrame(ws.Frame{Event: "authenticate", Data: data})
	}

	go client.ReadPump(ctrl)
}
