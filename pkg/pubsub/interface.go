package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is a room-scoped message on the shared bus. Origin identifies the
// publishing process so subscribers can drop their own events; Sender is the
// connection id the payload is attributed to.
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	Origin    string          `json:"origin"`
	Sender    string          `json:"sender"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(eventType, roomID, origin, sender string, payload json.RawMessage) *Event {
	return &Event{
		Type:      eventType,
		RoomID:    roomID,
		Origin:    origin,
		Sender:    sender,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Publisher publishes events to the shared bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber subscribes to events from the shared bus. Events on the
// returned channel preserve the publish order of any single publisher.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub combines Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
