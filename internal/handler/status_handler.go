package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/registry"
)

// NamespaceStatus is the per-transport slice of the operational view.
type NamespaceStatus struct {
	Name      string `json:"name"`
	Connected int    `json:"connected"`
}

// StatusResponse is the read-only operational view of the relay. It exposes
// counts only, never payloads.
type StatusResponse struct {
	Status     string            `json:"status"`
	Port       int               `json:"port"`
	Namespaces []NamespaceStatus `json:"namespaces"`
}

// Status handles GET /api/v1/status.
func (h *Handler) Status(c *gin.Context) {
	counts, _ := h.registry.Counts()

	c.JSON(http.StatusOK, StatusResponse{
		Status: "online",
		Port:   h.port,
		Namespaces: []NamespaceStatus{
			{Name: string(registry.TransportSSE), Connected: counts[registry.TransportSSE]},
			{Name: string(registry.TransportWebSocket), Connected: counts[registry.TransportWebSocket]},
		},
	})
}
