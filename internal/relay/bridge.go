package relay

import (
	"context"
	"sync"
	"time"

	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/domain"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/metrics"
	pkglog "github.com/archer102125220/parker-nextjs-lab-sub002/pkg/log"
	"github.com/archer102125220/parker-nextjs-lab-sub002/pkg/pubsub"
)

const resubscribeDelay = 2 * time.Second

// roomSubscription is one reference-counted shared-bus subscription.
type roomSubscription struct {
	refs   int
	cancel context.CancelFunc
}

// Bridge relays room traffic through the shared pub/sub bus so every
// instance serving members of a room observes the same messages. A process
// subscribes to a room's channel once regardless of how many local members
// the room has.
type Bridge struct {
	bus        pubsub.PubSub
	instanceID string

	onRemote func(*domain.SignalingMessage)

	mu   sync.Mutex
	subs map[string]*roomSubscription
}

// NewBridge creates a bridge over the shared bus. instanceID must be unique
// per process; it is how a process filters out its own events.
func NewBridge(bus pubsub.PubSub, instanceID string) *Bridge {
	return &Bridge{
		bus:        bus,
		instanceID: instanceID,
		subs:       make(map[string]*roomSubscription),
	}
}

// InstanceID returns this process's bus identity.
func (b *Bridge) InstanceID() string {
	return b.instanceID
}

// bindLocal sets the local fan-out for events arriving from other
// instances. Set once by the broadcaster before traffic flows.
func (b *Bridge) bindLocal(fn func(*domain.SignalingMessage)) {
	b.onRemote = fn
}

// Acquire adds a reference to the room's bus subscription, subscribing on
// the first local member.
func (b *Bridge) Acquire(roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[roomID]; ok {
		sub.refs++
		return nil
	}

	// The subscription outlives the request that triggered it.
	subCtx, cancel := context.WithCancel(context.Background())
	ch, err := b.bus.Subscribe(subCtx, pubsub.RoomChannel(roomID))
	if err != nil {
		cancel()
		return err
	}

	b.subs[roomID] = &roomSubscription{refs: 1, cancel: cancel}
	go b.receive(subCtx, roomID, ch)

	l := pkglog.L()
	l.Debug().Str(pkglog.FieldRoomID, roomID).Msg("bridge subscribed to room channel")
	return nil
}

// Release drops a reference, unsubscribing when the local member count for
// the room reaches zero.
func (b *Bridge) Release(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[roomID]
	if !ok {
		return
	}
	sub.refs--
	if sub.refs > 0 {
		return
	}

	sub.cancel()
	delete(b.subs, roomID)
	if err := b.bus.Unsubscribe(context.Background(), pubsub.RoomChannel(roomID)); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("bridge unsubscribe failed")
	}

	l := pkglog.L()
	l.Debug().Str(pkglog.FieldRoomID, roomID).Msg("bridge unsubscribed from room channel")
}

// PublishExternal pushes a message to the shared channel for its room.
func (b *Bridge) PublishExternal(ctx context.Context, msg *domain.SignalingMessage) error {
	ev := pubsub.NewEvent(msg.Kind, msg.RoomID, b.instanceID, msg.SenderID, msg.Payload)
	if err := b.bus.Publish(ctx, pubsub.RoomChannel(msg.RoomID), ev); err != nil {
		metrics.BridgeFailures.Inc()
		return err
	}
	metrics.BridgePublishes.Inc()
	return nil
}

// Close cancels every room subscription.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for roomID, sub := range b.subs {
		sub.cancel()
		delete(b.subs, roomID)
	}
}

// receive feeds events from the room channel into local fan-out, skipping
// events this instance published. When the bus drops the subscription it
// resubscribes until the room is released.
func (b *Bridge) receive(ctx context.Context, roomID string, ch <-chan *pubsub.Event) {
	for {
		for ev := range ch {
			if ev.Origin == b.instanceID {
				continue
			}
			if b.onRemote == nil {
				continue
			}
			b.onRemote(&domain.SignalingMessage{
				RoomID:   ev.RoomID,
				SenderID: ev.Sender,
				Kind:     ev.Type,
				Payload:  ev.Payload,
			})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}

		newCh, err := b.bus.Subscribe(ctx, pubsub.RoomChannel(roomID))
		if err != nil {
			l := pkglog.L()
			l.Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("bridge resubscribe failed, retrying")
			continue
		}
		ch = newCh

		l := pkglog.L()
		l.Info().Str(pkglog.FieldRoomID, roomID).Msg("bridge resubscribed to room channel")
	}
}
