package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/config"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/registry"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/relay"
)

// Handler exposes the relay over HTTP: the SSE stream and its companion
// POST, the WebSocket endpoint, and the operational status view.
type Handler struct {
	registry    *registry.Registry
	broadcaster *relay.Broadcaster
	sseCfg      config.SSEConfig
	wsCfg       config.WebSocketConfig
	port        int
}

// New creates the HTTP handler.
func New(reg *registry.Registry, bc *relay.Broadcaster, cfg *config.Config) *Handler {
	return &Handler{
		registry:    reg,
		broadcaster: bc,
		sseCfg:      cfg.SSE,
		wsCfg:       cfg.WebSocket,
		port:        cfg.Server.Port,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/status", h.Status)

		rooms := api.Group("/rooms")
		{
			rooms.GET("/:room_id/events", h.StreamRoomEvents)
			rooms.POST("/:room_id/messages", h.PostRoomMessage)
		}
	}

	r.GET("/ws", h.HandleWebSocket)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
