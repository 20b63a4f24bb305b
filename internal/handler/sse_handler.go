package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/domain"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/registry"
	pkglog "github.com/archer102125220/parker-nextjs-lab-sub002/pkg/log"
	"github.com/archer102125220/parker-nextjs-lab-sub002/pkg/response"
)

// StreamRoomEvents serves the long-lived SSE stream for a room member.
// The first event is a join carrying the connection id the client uses on
// the companion POST endpoint; every relayed message becomes one SSE event
// named after its kind, flushed immediately.
func (h *Handler) StreamRoomEvents(c *gin.Context) {
	roomID := c.Param("room_id")
	if roomID == "" {
		response.BadRequest(c, domain.ErrCodeBadRequest, "room id is required")
		return
	}

	l := pkglog.Ctx(c.Request.Context())

	conn := h.registry.Admit(registry.TransportSSE, roomID)
	defer h.registry.Close(conn.ID)

	if err := h.registry.Activate(conn.ID); err != nil {
		response.InternalError(c, domain.CodeFor(err), "failed to activate connection")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	// Announce the connection id before joining, so the client holds its
	// handle before any peer traffic can arrive.
	if err := writeEvent(c.Writer, domain.KindJoin, &domain.JoinedFrame{
		Type:         domain.KindJoin,
		ConnectionID: conn.ID,
		RoomID:       roomID,
	}); err != nil {
		return
	}
	c.Writer.Flush()

	if err := h.registry.JoinRoom(conn.ID, roomID); err != nil {
		writeEvent(c.Writer, domain.KindError, domain.NewErrorFrame(domain.CodeFor(err), "failed to join room"))
		c.Writer.Flush()
		return
	}

	heartbeat := time.NewTicker(h.sseCfg.HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			// Client went away.
			return

		case <-conn.Done():
			// Closed elsewhere (reaper, shutdown).
			return

		case msg := <-conn.Outbound():
			if err := writeEvent(c.Writer, msg.Kind, domain.FrameFor(msg)); err != nil {
				l.Warn().Err(err).Str(pkglog.FieldConnectionID, conn.ID).Msg("sse write failed")
				return
			}
			c.Writer.Flush()
			conn.Touch()

		case <-heartbeat.C:
			if _, err := io.WriteString(c.Writer, ": keep-alive\n\n"); err != nil {
				l.Warn().Err(err).Str(pkglog.FieldConnectionID, conn.ID).Msg("sse heartbeat failed")
				return
			}
			c.Writer.Flush()
			conn.Touch()
		}
	}
}

// PostRoomMessage injects a client→server signaling message for an SSE
// connection. The claimed connection id must map to an open member of the
// room, otherwise any client could forge messages as another peer.
func (h *Handler) PostRoomMessage(c *gin.Context) {
	roomID := c.Param("room_id")

	var req domain.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, domain.ErrCodeBadRequest, "invalid request body")
		return
	}

	if !domain.IsSignalKind(req.Kind) {
		response.BadRequest(c, domain.ErrCodeBadRequest, fmt.Sprintf("unsupported message kind %q", req.Kind))
		return
	}

	conn, err := h.registry.VerifySender(req.ConnectionID, roomID)
	if err != nil {
		response.Forbidden(c, domain.CodeFor(err), "connection does not match an open member of this room")
		return
	}
	conn.Touch()

	msg := &domain.SignalingMessage{
		RoomID:   roomID,
		SenderID: conn.ID,
		Kind:     req.Kind,
		Payload:  req.Payload,
	}

	if err := h.broadcaster.Publish(c.Request.Context(), msg); err != nil {
		if errors.Is(err, domain.ErrBridgeUnavailable) {
			// Local members got the message; only cross-instance fan-out is
			// degraded.
			l := pkglog.Ctx(c.Request.Context())
			l.Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("publish degraded to local delivery")
			response.Accepted(c, gin.H{"delivered": true, "bridge": "degraded"})
			return
		}
		response.InternalError(c, domain.ErrCodeInternalError, "failed to publish message")
		return
	}

	response.Accepted(c, gin.H{"delivered": true})
}

// writeEvent serializes one SSE event: the event name is the message kind,
// the data line its JSON frame.
func writeEvent(w io.Writer, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
