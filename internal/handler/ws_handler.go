package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/config"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/domain"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/registry"
	pkglog "github.com/archer102125220/parker-nextjs-lab-sub002/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Demo pages are served from arbitrary origins.
	},
}

// wsClient pairs a websocket with its registry connection. The read pump is
// the only reader, the write pump the only writer.
type wsClient struct {
	conn *websocket.Conn
	rc   *registry.Connection
	h    *Handler

	// Direct server→client frames (joined, error). Broadcast traffic flows
	// through the registry connection's outbound channel.
	ctrl chan interface{}

	cfg config.WebSocketConfig
}

// HandleWebSocket upgrades the connection and starts the pumps. Join-before-
// use: the client must send a join frame before any signaling frame.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	l := pkglog.Ctx(c.Request.Context())

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	rc := h.registry.Admit(registry.TransportWebSocket, "")
	client := &wsClient{
		conn: conn,
		rc:   rc,
		h:    h,
		ctrl: make(chan interface{}, 8),
		cfg:  h.wsCfg,
	}

	go client.writePump()
	go client.readPump()
}

func (cl *wsClient) readPump() {
	defer func() {
		cl.h.registry.Close(cl.rc.ID)
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(cl.cfg.MaxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(cl.cfg.PongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.rc.Touch()
		cl.conn.SetReadDeadline(time.Now().Add(cl.cfg.PongWait))
		return nil
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				l := pkglog.L()
				l.Error().Err(err).Str(pkglog.FieldConnectionID, cl.rc.ID).Msg("websocket error")
			}
			break
		}

		cl.rc.Touch()
		cl.handleFrame(raw)
	}
}

func (cl *wsClient) writePump() {
	ticker := time.NewTicker(cl.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case <-cl.rc.Done():
			cl.conn.SetWriteDeadline(time.Now().Add(cl.cfg.WriteWait))
			cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-cl.ctrl:
			cl.conn.SetWriteDeadline(time.Now().Add(cl.cfg.WriteWait))
			if err := cl.conn.WriteJSON(frame); err != nil {
				return
			}

		case msg := <-cl.rc.Outbound():
			cl.conn.SetWriteDeadline(time.Now().Add(cl.cfg.WriteWait))
			if err := cl.conn.WriteJSON(domain.FrameFor(msg)); err != nil {
				return
			}
			cl.rc.Touch()

		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(cl.cfg.WriteWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendCtrl queues a direct frame; drops it if the client is not draining.
func (cl *wsClient) sendCtrl(frame interface{}) {
	select {
	case cl.ctrl <- frame:
	default:
	}
}

// handleFrame dispatches one client frame. The frame type set is closed;
// anything else is rejected at this boundary.
func (cl *wsClient) handleFrame(raw []byte) {
	var base domain.BaseFrame
	if err := json.Unmarshal(raw, &base); err != nil {
		cl.sendCtrl(domain.NewErrorFrame(domain.ErrCodeBadRequest, "invalid frame"))
		return
	}

	switch base.Type {
	case domain.KindJoin:
		var frame domain.JoinFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.RoomID == "" {
			cl.sendCtrl(domain.NewErrorFrame(domain.ErrCodeBadRequest, "join requires a roomId"))
			return
		}
		cl.handleJoin(frame.RoomID)

	case domain.KindOffer, domain.KindAnswer, domain.KindICECandidate:
		var frame domain.SignalFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			cl.sendCtrl(domain.NewErrorFrame(domain.ErrCodeBadRequest, "invalid signaling frame"))
			return
		}
		cl.handleSignal(base.Type, frame.Payload)

	case domain.KindLeave:
		if err := cl.h.registry.LeaveRoom(cl.rc.ID); err != nil {
			cl.sendCtrl(domain.NewErrorFrame(domain.CodeFor(err), "leave failed"))
		}

	default:
		cl.sendCtrl(domain.NewErrorFrame(domain.ErrCodeBadRequest, "unknown frame type"))
	}
}

func (cl *wsClient) handleJoin(roomID string) {
	// First join completes the admission handshake.
	if cl.rc.State() == registry.StateConnecting {
		if err := cl.h.registry.Activate(cl.rc.ID); err != nil {
			cl.sendCtrl(domain.NewErrorFrame(domain.CodeFor(err), "activation failed"))
			return
		}
	}

	if err := cl.h.registry.JoinRoom(cl.rc.ID, roomID); err != nil {
		cl.sendCtrl(domain.NewErrorFrame(domain.CodeFor(err), "join failed"))
		return
	}

	cl.sendCtrl(&domain.JoinedFrame{
		Type:         "joined",
		ConnectionID: cl.rc.ID,
		RoomID:       roomID,
	})
}

func (cl *wsClient) handleSignal(kind string, payload json.RawMessage) {
	roomID := cl.rc.Room()
	if roomID == "" || cl.rc.State() != registry.StateOpen {
		cl.sendCtrl(domain.NewErrorFrame(domain.ErrCodeForbidden, "join a room before signaling"))
		return
	}

	msg := &domain.SignalingMessage{
		RoomID:   roomID,
		SenderID: cl.rc.ID,
		Kind:     kind,
		Payload:  payload,
	}

	if err := cl.h.broadcaster.Publish(context.Background(), msg); err != nil {
		if errors.Is(err, domain.ErrBridgeUnavailable) {
			// Local peers got it; cross-instance fan-out degraded.
			l := pkglog.L()
			l.Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("publish degraded to local delivery")
			return
		}
		cl.sendCtrl(domain.NewErrorFrame(domain.ErrCodeInternalError, "failed to relay message"))
	}
}
