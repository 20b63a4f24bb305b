package relay

import (
	"context"
	"fmt"

	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/domain"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/metrics"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/registry"
	pkglog "github.com/archer102125220/parker-nextjs-lab-sub002/pkg/log"
)

// Broadcaster fans a signaling message out to every other member of its
// room. Local members are delivered in-process; members on other instances
// are reached through the bridge.
type Broadcaster struct {
	registry *registry.Registry
	bridge   *Bridge // nil in single-process mode
}

// NewBroadcaster creates a broadcaster over reg. bridge may be nil; when
// present, messages arriving from other instances re-enter local fan-out.
func NewBroadcaster(reg *registry.Registry, bridge *Bridge) *Broadcaster {
	b := &Broadcaster{
		registry: reg,
		bridge:   bridge,
	}
	if bridge != nil {
		bridge.bindLocal(b.deliverLocal)
	}
	return b
}

// Publish delivers msg to every member of msg.RoomID except the sender.
// Local delivery always proceeds; if the bridge cannot replicate the message
// to other instances, Publish returns ErrBridgeUnavailable after the local
// fan-out has completed.
func (b *Broadcaster) Publish(ctx context.Context, msg *domain.SignalingMessage) error {
	b.deliverLocal(msg)
	metrics.MessagesRelayed.WithLabelValues(msg.Kind).Inc()

	if b.bridge == nil {
		return nil
	}
	if err := b.bridge.PublishExternal(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBridgeUnavailable, err)
	}
	return nil
}

// deliverLocal dispatches msg to the local members of its room. One
// saturated or closed recipient never fails the rest of the fan-out.
func (b *Broadcaster) deliverLocal(msg *domain.SignalingMessage) {
	for _, member := range b.registry.Members(msg.RoomID) {
		if member.ID == msg.SenderID {
			continue
		}
		if err := member.Deliver(msg); err != nil {
			metrics.DroppedDeliveries.Inc()
			l := pkglog.L()
			l.Warn().
				Err(err).
				Str(pkglog.FieldConnectionID, member.ID).
				Str(pkglog.FieldRoomID, msg.RoomID).
				Str(pkglog.FieldKind, msg.Kind).
				Msg("dropping delivery to unreachable recipient")
		}
	}
}

// Wire connects the registry's membership events to the broadcaster and
// bridge: joins and leaves become join/leave signaling messages to the
// room's remaining members, and the bridge subscription for a room follows
// the local member count.
func Wire(reg *registry.Registry, b *Broadcaster) {
	onJoin := func(roomID, connectionID string) {
		if b.bridge != nil {
			if err := b.bridge.Acquire(roomID); err != nil {
				l := pkglog.L()
				l.Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("bridge subscription failed, room is single-instance until rejoin")
			}
		}
		if err := b.Publish(context.Background(), &domain.SignalingMessage{
			RoomID:   roomID,
			SenderID: connectionID,
			Kind:     domain.KindJoin,
		}); err != nil {
			l := pkglog.L()
			l.Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("join notification degraded")
		}
	}

	onLeave := func(roomID, connectionID string) {
		if err := b.Publish(context.Background(), &domain.SignalingMessage{
			RoomID:   roomID,
			SenderID: connectionID,
			Kind:     domain.KindLeave,
		}); err != nil {
			l := pkglog.L()
			l.Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("leave notification degraded")
		}
		if b.bridge != nil {
			b.bridge.Release(roomID)
		}
	}

	reg.SetMembershipHandlers(onJoin, onLeave)
}
