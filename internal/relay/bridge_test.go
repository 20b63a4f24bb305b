package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/domain"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/registry"
	"github.com/archer102125220/parker-nextjs-lab-sub002/pkg/pubsub"
)

// fakeBus is an in-memory stand-in for the shared pub/sub store.
type fakeBus struct {
	mu          sync.Mutex
	subs        map[string][]chan *pubsub.Event
	failPublish bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string][]chan *pubsub.Event)}
}

func (f *fakeBus) Publish(ctx context.Context, channel string, event *pubsub.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPublish {
		return errors.New("bus unreachable")
	}
	for _, ch := range f.subs[channel] {
		ch <- event
	}
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan *pubsub.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan *pubsub.Event, 100)
	f.subs[channel] = append(f.subs[channel], ch)
	return ch, nil
}

func (f *fakeBus) Unsubscribe(ctx context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[channel] {
		close(ch)
	}
	delete(f.subs, channel)
	return nil
}

func (f *fakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for channel, chans := range f.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(f.subs, channel)
	}
	return nil
}

func (f *fakeBus) subCount(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[channel])
}

// instance is one simulated relay process.
type instance struct {
	reg    *registry.Registry
	bridge *Bridge
	bc     *Broadcaster
}

func newInstance(bus pubsub.PubSub, id string) *instance {
	reg := registry.New(registry.Config{SendBuffer: 16})
	bridge := NewBridge(bus, id)
	bc := NewBroadcaster(reg, bridge)
	Wire(reg, bc)
	return &instance{reg: reg, bridge: bridge, bc: bc}
}

func TestBridge_CrossInstanceDeliveryWithoutEcho(t *testing.T) {
	bus := newFakeBus()
	a := newInstance(bus, "instance-a")
	b := newInstance(bus, "instance-b")

	cA := join(t, a.reg, registry.TransportSSE, "abc")
	cB := join(t, b.reg, registry.TransportWebSocket, "abc")

	// cB's join travels over the bridge to instance A.
	got := recvMsg(t, cA)
	if got.Kind != domain.KindJoin || got.SenderID != cB.ID {
		t.Fatalf("got kind=%q sender=%q, want join from %q", got.Kind, got.SenderID, cB.ID)
	}

	payload := json.RawMessage(`"sdp-cross"`)
	if err := a.bc.Publish(context.Background(), &domain.SignalingMessage{
		RoomID:   "abc",
		SenderID: cA.ID,
		Kind:     domain.KindOffer,
		Payload:  payload,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got = recvMsg(t, cB)
	if got.Kind != domain.KindOffer || got.SenderID != cA.ID {
		t.Fatalf("got kind=%q sender=%q, want offer from %q", got.Kind, got.SenderID, cA.ID)
	}
	if string(got.Payload) != `"sdp-cross"` {
		t.Fatalf("payload=%s, want \"sdp-cross\"", got.Payload)
	}

	// The event must not be duplicated back to the sending instance.
	expectNothing(t, cA)
}

func TestBridge_LeavePropagatesAcrossInstances(t *testing.T) {
	bus := newFakeBus()
	a := newInstance(bus, "instance-a")
	b := newInstance(bus, "instance-b")

	cA := join(t, a.reg, registry.TransportSSE, "abc")
	cB := join(t, b.reg, registry.TransportWebSocket, "abc")
	recvMsg(t, cA) // cB's join

	b.reg.Close(cB.ID)

	got := recvMsg(t, cA)
	if got.Kind != domain.KindLeave || got.SenderID != cB.ID {
		t.Fatalf("got kind=%q sender=%q, want leave from %q", got.Kind, got.SenderID, cB.ID)
	}
}

func TestBridge_SubscriptionIsReferenceCounted(t *testing.T) {
	bus := newFakeBus()
	inst := newInstance(bus, "instance-a")
	channel := pubsub.RoomChannel("room-rc")

	c1 := join(t, inst.reg, registry.TransportSSE, "room-rc")
	c2 := join(t, inst.reg, registry.TransportSSE, "room-rc")

	if got := bus.subCount(channel); got != 1 {
		t.Fatalf("subscriptions with two local members=%d, want 1", got)
	}

	inst.reg.Close(c1.ID)
	if got := bus.subCount(channel); got != 1 {
		t.Fatalf("subscriptions after first close=%d, want 1", got)
	}

	inst.reg.Close(c2.ID)
	if got := bus.subCount(channel); got != 0 {
		t.Fatalf("subscriptions after last close=%d, want 0", got)
	}
}

func TestBridge_UnavailableBusStillDeliversLocally(t *testing.T) {
	bus := newFakeBus()
	inst := newInstance(bus, "instance-a")

	sender := join(t, inst.reg, registry.TransportWebSocket, "room-1")
	recipient := join(t, inst.reg, registry.TransportSSE, "room-1")
	recvMsg(t, sender) // recipient's join

	bus.mu.Lock()
	bus.failPublish = true
	bus.mu.Unlock()

	err := inst.bc.Publish(context.Background(), &domain.SignalingMessage{
		RoomID:   "room-1",
		SenderID: sender.ID,
		Kind:     domain.KindOffer,
	})
	if !errors.Is(err, domain.ErrBridgeUnavailable) {
		t.Fatalf("err=%v, want ErrBridgeUnavailable", err)
	}

	// Local delivery proceeded despite the degraded bridge.
	if got := recvMsg(t, recipient); got.Kind != domain.KindOffer {
		t.Fatalf("kind=%q, want offer", got.Kind)
	}
}
