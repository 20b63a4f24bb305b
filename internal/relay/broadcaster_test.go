package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/domain"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/registry"
)

func join(t *testing.T, r *registry.Registry, transport registry.Transport, roomID string) *registry.Connection {
	t.Helper()
	c := r.Admit(transport, roomID)
	if err := r.Activate(c.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := r.JoinRoom(c.ID, roomID); err != nil {
		t.Fatalf("join: %v", err)
	}
	return c
}

func recvMsg(t *testing.T, c *registry.Connection) *domain.SignalingMessage {
	t.Helper()
	select {
	case msg := <-c.Outbound():
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message on %s", c.ID)
		return nil
	}
}

func expectNothing(t *testing.T, c *registry.Connection) {
	t.Helper()
	select {
	case msg := <-c.Outbound():
		t.Fatalf("unexpected message on %s: kind=%s sender=%s", c.ID, msg.Kind, msg.SenderID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_ExcludesSender(t *testing.T) {
	reg := registry.New(registry.Config{SendBuffer: 8})
	bc := NewBroadcaster(reg, nil)

	c1 := join(t, reg, registry.TransportSSE, "room-42")
	c2 := join(t, reg, registry.TransportWebSocket, "room-42")

	payload := json.RawMessage(`"sdp-1"`)
	if err := bc.Publish(context.Background(), &domain.SignalingMessage{
		RoomID:   "room-42",
		SenderID: c1.ID,
		Kind:     domain.KindOffer,
		Payload:  payload,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := recvMsg(t, c2)
	if got.Kind != domain.KindOffer {
		t.Fatalf("kind=%q, want offer", got.Kind)
	}
	if got.SenderID != c1.ID {
		t.Fatalf("senderId=%q, want %q", got.SenderID, c1.ID)
	}
	if string(got.Payload) != `"sdp-1"` {
		t.Fatalf("payload=%s, want \"sdp-1\"", got.Payload)
	}

	expectNothing(t, c1)
}

func TestPublish_PerSenderOrderingPreserved(t *testing.T) {
	reg := registry.New(registry.Config{SendBuffer: 32})
	bc := NewBroadcaster(reg, nil)

	sender := join(t, reg, registry.TransportWebSocket, "room-1")
	recipient := join(t, reg, registry.TransportSSE, "room-1")

	for i := 0; i < 10; i++ {
		seq, _ := json.Marshal(i)
		if err := bc.Publish(context.Background(), &domain.SignalingMessage{
			RoomID:   "room-1",
			SenderID: sender.ID,
			Kind:     domain.KindICECandidate,
			Payload:  seq,
		}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	for i := 0; i < 10; i++ {
		got := recvMsg(t, recipient)
		var seq int
		if err := json.Unmarshal(got.Payload, &seq); err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if seq != i {
			t.Fatalf("message %d arrived out of order: got seq %d", i, seq)
		}
	}
}

func TestPublish_ClosedRecipientDoesNotFailFanout(t *testing.T) {
	reg := registry.New(registry.Config{SendBuffer: 8})
	bc := NewBroadcaster(reg, nil)

	sender := join(t, reg, registry.TransportWebSocket, "room-1")
	alive := join(t, reg, registry.TransportSSE, "room-1")
	dead := join(t, reg, registry.TransportSSE, "room-1")

	reg.Close(dead.ID)

	if err := bc.Publish(context.Background(), &domain.SignalingMessage{
		RoomID:   "room-1",
		SenderID: sender.ID,
		Kind:     domain.KindOffer,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := recvMsg(t, alive); got.Kind != domain.KindOffer {
		t.Fatalf("kind=%q, want offer", got.Kind)
	}
}

func TestPublish_SaturatedRecipientIsDroppedOthersDelivered(t *testing.T) {
	reg := registry.New(registry.Config{SendBuffer: 1})
	bc := NewBroadcaster(reg, nil)

	sender := join(t, reg, registry.TransportWebSocket, "room-1")
	slow := join(t, reg, registry.TransportSSE, "room-1")
	fast := join(t, reg, registry.TransportSSE, "room-1")

	for i := 0; i < 3; i++ {
		if err := bc.Publish(context.Background(), &domain.SignalingMessage{
			RoomID:   "room-1",
			SenderID: sender.ID,
			Kind:     domain.KindICECandidate,
		}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		recvMsg(t, fast) // fast drains every message
	}

	// slow never drained: exactly its buffer size made it through.
	if got := len(slow.Outbound()); got != 1 {
		t.Fatalf("slow recipient queued=%d, want 1", got)
	}
}

func TestWire_JoinAndLeaveNotifications(t *testing.T) {
	reg := registry.New(registry.Config{SendBuffer: 8})
	bc := NewBroadcaster(reg, nil)
	Wire(reg, bc)

	c1 := join(t, reg, registry.TransportSSE, "room-9")

	c2 := join(t, reg, registry.TransportWebSocket, "room-9")
	got := recvMsg(t, c1)
	if got.Kind != domain.KindJoin || got.SenderID != c2.ID {
		t.Fatalf("got kind=%q sender=%q, want join from %q", got.Kind, got.SenderID, c2.ID)
	}

	reg.Close(c2.ID)
	got = recvMsg(t, c1)
	if got.Kind != domain.KindLeave || got.SenderID != c2.ID {
		t.Fatalf("got kind=%q sender=%q, want leave from %q", got.Kind, got.SenderID, c2.ID)
	}

	// Exactly one leave per close.
	expectNothing(t, c1)
}
