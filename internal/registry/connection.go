package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/domain"
)

// Transport identifies which channel adapter owns a connection.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "websocket"
)

// State is a connection's lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrSaturated is returned by Deliver when the recipient's outbound buffer
// is full. The broadcaster drops that single delivery and moves on.
var ErrSaturated = errors.New("outbound channel saturated")

// Connection is one live client channel. The registry owns admission and
// room membership; the transport adapter drains Outbound and watches Done.
type Connection struct {
	ID        string
	Transport Transport

	mu     sync.RWMutex
	state  State
	roomID string

	lastActivity atomic.Int64 // unix nanos

	send chan *domain.SignalingMessage
	done chan struct{}
}

func newConnection(id string, transport Transport, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 64
	}
	c := &Connection{
		ID:        id,
		Transport: transport,
		state:     StateConnecting,
		send:      make(chan *domain.SignalingMessage, buffer),
		done:      make(chan struct{}),
	}
	c.Touch()
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Room returns the current room id, or "" when not in a room.
func (c *Connection) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// Touch refreshes the activity timestamp. Called on every inbound or
// outbound message and on transport heartbeats.
func (c *Connection) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recent traffic.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Outbound is the channel the owning transport adapter drains. It is never
// closed; adapters select on Done to stop.
func (c *Connection) Outbound() <-chan *domain.SignalingMessage {
	return c.send
}

// Done is closed when the connection reaches Closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Deliver enqueues a message for the transport adapter. It never blocks:
// a closed connection returns ErrInvalidState, a full buffer ErrSaturated.
func (c *Connection) Deliver(msg *domain.SignalingMessage) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateOpen {
		return fmt.Errorf("%w: connection is %s", domain.ErrInvalidState, c.state)
	}

	select {
	case c.send <- msg:
		c.Touch()
		return nil
	default:
		return ErrSaturated
	}
}
