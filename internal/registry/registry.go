package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/domain"
	"github.com/archer102125220/parker-nextjs-lab-sub002/internal/metrics"
	pkglog "github.com/archer102125220/parker-nextjs-lab-sub002/pkg/log"
)

// Config holds registry tuning.
type Config struct {
	// SendBuffer is the per-connection outbound buffer size.
	SendBuffer int `mapstructure:"send_buffer"`
	// IdleTimeout is how long a connection may go without traffic before the
	// reaper closes it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ReapInterval is how often the reaper scans for idle connections.
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// MembershipHandler observes room membership changes. Handlers run outside
// the registry lock and may call back into the registry.
type MembershipHandler func(roomID, connectionID string)

// Registry tracks live connections and the room each belongs to. The
// room→members and connection→room indexes are mutated together under one
// lock; snapshots are copies, never live views.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[string]map[string]*Connection

	cfg Config

	onJoin  MembershipHandler
	onLeave MembershipHandler
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		rooms: make(map[string]map[string]*Connection),
		cfg:   cfg,
	}
}

// SetMembershipHandlers registers the join/leave observers. Call before
// serving traffic.
func (r *Registry) SetMembershipHandlers(onJoin, onLeave MembershipHandler) {
	r.onJoin = onJoin
	r.onLeave = onLeave
}

// Admit creates a connection in Connecting state. It never blocks.
// initialRoomID is advisory; membership starts only at JoinRoom.
func (r *Registry) Admit(transport Transport, initialRoomID string) *Connection {
	conn := newConnection(uuid.New().String(), transport, r.cfg.SendBuffer)

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	metrics.OpenConnections.WithLabelValues(string(transport)).Inc()

	l := pkglog.L()
	l.Info().
		Str(pkglog.FieldConnectionID, conn.ID).
		Str(pkglog.FieldTransport, string(transport)).
		Str(pkglog.FieldRoomID, initialRoomID).
		Msg("connection admitted")

	return conn
}

// Activate transitions a connection from Connecting to Open.
func (r *Registry) Activate(connectionID string) error {
	r.mu.RLock()
	conn, ok := r.conns[connectionID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: connection %s", domain.ErrNotFound, connectionID)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.state != StateConnecting {
		return fmt.Errorf("%w: cannot activate a %s connection", domain.ErrInvalidState, conn.state)
	}
	conn.state = StateOpen
	return nil
}

// JoinRoom adds a connection to a room, creating the room if absent. A
// connection belongs to at most one room: joining a new room leaves the old
// one first, and that leave is observable to the old room's members.
func (r *Registry) JoinRoom(connectionID, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: empty room id", domain.ErrNotFound)
	}

	r.mu.Lock()
	conn, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: connection %s", domain.ErrNotFound, connectionID)
	}

	conn.mu.Lock()
	if conn.state == StateClosing || conn.state == StateClosed {
		conn.mu.Unlock()
		r.mu.Unlock()
		return fmt.Errorf("%w: connection %s is closed", domain.ErrNotFound, connectionID)
	}
	if conn.roomID == roomID {
		conn.mu.Unlock()
		r.mu.Unlock()
		return nil
	}

	prevRoom := r.removeFromRoomLocked(conn)

	members, exists := r.rooms[roomID]
	if !exists {
		members = make(map[string]*Connection)
		r.rooms[roomID] = members
	}
	members[conn.ID] = conn
	conn.roomID = roomID
	conn.mu.Unlock()

	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	r.mu.Unlock()

	l := pkglog.L()
	l.Info().
		Str(pkglog.FieldConnectionID, connectionID).
		Str(pkglog.FieldRoomID, roomID).
		Msg("connection joined room")

	if prevRoom != "" && r.onLeave != nil {
		r.onLeave(prevRoom, connectionID)
	}
	if r.onJoin != nil {
		r.onJoin(roomID, connectionID)
	}
	return nil
}

// LeaveRoom removes a connection from its current room. Leaving twice is a
// no-op, not an error; the room is deleted once its last member leaves.
func (r *Registry) LeaveRoom(connectionID string) error {
	r.mu.Lock()
	conn, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: connection %s", domain.ErrNotFound, connectionID)
	}

	conn.mu.Lock()
	prevRoom := r.removeFromRoomLocked(conn)
	conn.mu.Unlock()

	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	r.mu.Unlock()

	if prevRoom == "" {
		return nil
	}

	l := pkglog.L()
	l.Info().
		Str(pkglog.FieldConnectionID, connectionID).
		Str(pkglog.FieldRoomID, prevRoom).
		Msg("connection left room")

	if r.onLeave != nil {
		r.onLeave(prevRoom, connectionID)
	}
	return nil
}

// Close tears a connection down: it leaves its room, transitions to Closed,
// and wakes the owning transport adapter. Idempotent.
func (r *Registry) Close(connectionID string) {
	r.mu.Lock()
	conn, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}

	conn.mu.Lock()
	conn.state = StateClosing
	prevRoom := r.removeFromRoomLocked(conn)
	delete(r.conns, connectionID)
	conn.state = StateClosed
	close(conn.done)
	conn.mu.Unlock()

	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	r.mu.Unlock()

	metrics.OpenConnections.WithLabelValues(string(conn.Transport)).Dec()

	l := pkglog.L()
	l.Info().
		Str(pkglog.FieldConnectionID, connectionID).
		Str(pkglog.FieldTransport, string(conn.Transport)).
		Msg("connection closed")

	if prevRoom != "" && r.onLeave != nil {
		r.onLeave(prevRoom, connectionID)
	}
}

// removeFromRoomLocked detaches conn from its room and deletes the room if
// it empties. Caller holds r.mu and conn.mu. Returns the left room id.
func (r *Registry) removeFromRoomLocked(conn *Connection) string {
	if conn.roomID == "" {
		return ""
	}
	roomID := conn.roomID
	if members, ok := r.rooms[roomID]; ok {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	conn.roomID = ""
	return roomID
}

// Get returns a connection by id.
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connectionID]
	return conn, ok
}

// Members returns a point-in-time snapshot of a room's members. Safe to
// iterate while the registry mutates.
func (r *Registry) Members(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// VerifySender checks that connectionID maps to an Open connection that is a
// member of roomID. Anything else is a forged sender.
func (r *Registry) VerifySender(connectionID, roomID string) (*Connection, error) {
	r.mu.RLock()
	conn, ok := r.conns[connectionID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown connection", domain.ErrForbidden)
	}

	conn.mu.RLock()
	defer conn.mu.RUnlock()
	if conn.state != StateOpen {
		return nil, fmt.Errorf("%w: connection is %s", domain.ErrForbidden, conn.state)
	}
	if conn.roomID != roomID {
		return nil, fmt.Errorf("%w: connection is not a member of room %s", domain.ErrForbidden, roomID)
	}
	return conn, nil
}

// Counts returns connections per transport and the number of active rooms.
func (r *Registry) Counts() (map[Transport]int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Transport]int)
	for _, c := range r.conns {
		counts[c.Transport]++
	}
	return counts, len(r.rooms)
}

// StartReaper evicts connections idle past the configured window. Dead SSE
// streams that stop acknowledging heartbeats are caught here.
func (r *Registry) StartReaper(ctx context.Context) {
	if r.cfg.IdleTimeout <= 0 {
		return
	}
	interval := r.cfg.ReapInterval
	if interval <= 0 {
		interval = r.cfg.IdleTimeout / 2
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.reapIdle()
			}
		}
	}()
}

func (r *Registry) reapIdle() {
	cutoff := time.Now().Add(-r.cfg.IdleTimeout)

	r.mu.RLock()
	var stale []string
	for id, c := range r.conns {
		if c.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		l := pkglog.L()
		l.Warn().Str(pkglog.FieldConnectionID, id).Msg("closing idle connection")
		metrics.IdleEvictions.Inc()
		r.Close(id)
	}
}
