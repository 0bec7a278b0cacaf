/*
Package realtime is the websocket fan-out hub: it tracks live connections, the rooms they
joined and which users are online, and relays chat events between them.

All hub state (Registry, Presence, Router) is owned by the single goroutine running
Hub.Run. None of it is safe for use from any other goroutine.
*/
package realtime

import (
	"sort"
)

// ConnState is the lifecycle stage of a connection.
type ConnState uint8

const (
	// StateConnected: accepted, identity not yet bound.
	StateConnected ConnState = iota
	// StateIdentified: setup completed, joined to the user's inbox.
	StateIdentified
	// StateActive: identified and joined to at least one conversation.
	StateActive
	// StateClosed: dropped from the registry.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer is the transport end of a connection.
type Peer interface {
	// ID returns the connection id.
	ID() string

	// Enqueue queues a pre-encoded frame without blocking. It reports false when the
	// frame was dropped.
	Enqueue(frame []byte) bool

	// Close releases the transport. It must be idempotent.
	Close()
}

// Connection is the registry entry for a live peer.
type Connection struct {
	Peer Peer

	// UserID is empty until setup.
	UserID string

	// Subject is the authenticated token subject the socket was opened with, if any.
	Subject string

	State ConnState

	rooms map[RoomID]struct{}
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.Peer.ID()
}

// Identified reports whether setup has bound a user to the connection.
func (c *Connection) Identified() bool {
	return c.State == StateIdentified || c.State == StateActive
}

// InRoom reports whether the connection joined room.
func (c *Connection) InRoom(room RoomID) bool {
	_, ok := c.rooms[room]
	return ok
}

// Rooms returns the joined rooms in a stable order.
func (c *Connection) Rooms() []RoomID {
	rooms := make([]RoomID, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	sortRooms(rooms)
	return rooms
}

func (c *Connection) conversationCount() int {
	n := 0
	for room := range c.rooms {
		if room.Kind == RoomConversation {
			n++
		}
	}
	return n
}

// Registry maps connection ids to connections, users to their connections and rooms
// to their member connections.
type Registry struct {
	conns  map[string]*Connection
	byUser map[string]map[string]*Connection
	rooms  map[RoomID]map[string]*Connection
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
		rooms:  make(map[RoomID]map[string]*Connection),
	}
}

// Register adds an unauthenticated connection. Registering an id twice returns the
// existing entry.
func (r *Registry) Register(peer Peer) *Connection {
	if existing, ok := r.conns[peer.ID()]; ok {
		return existing
	}

	conn := &Connection{
		Peer:  peer,
		State: StateConnected,
		rooms: make(map[RoomID]struct{}),
	}
	r.conns[peer.ID()] = conn
	return conn
}

// Get looks up a connection by id.
func (r *Registry) Get(connID string) (*Connection, bool) {
	conn, ok := r.conns[connID]
	return conn, ok
}

// Identify binds userID to the connection, overwriting any previous binding, and
// returns the previous user id.
func (r *Registry) Identify(connID, userID string) (string, bool) {
	conn, ok := r.conns[connID]
	if !ok {
		return "", false
	}

	previous := conn.UserID
	if previous == userID {
		return previous, true
	}

	if previous != "" {
		r.detachUser(previous, connID)
	}

	conn.UserID = userID

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]*Connection)
		r.byUser[userID] = set
	}
	set[connID] = conn

	return previous, true
}

// Join adds the connection to room. It reports whether membership changed.
func (r *Registry) Join(connID string, room RoomID) bool {
	conn, ok := r.conns[connID]
	if !ok {
		return false
	}

	if _, already := conn.rooms[room]; already {
		return false
	}

	conn.rooms[room] = struct{}{}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Connection)
		r.rooms[room] = members
	}
	members[connID] = conn

	return true
}

// Leave removes the connection from room. It reports whether membership changed.
func (r *Registry) Leave(connID string, room RoomID) bool {
	conn, ok := r.conns[connID]
	if !ok {
		return false
	}

	if _, member := conn.rooms[room]; !member {
		return false
	}

	delete(conn.rooms, room)
	r.detachRoom(room, connID)

	return true
}

// Drop removes the connection together with every membership and returns it.
func (r *Registry) Drop(connID string) (*Connection, bool) {
	conn, ok := r.conns[connID]
	if !ok {
		return nil, false
	}

	for room := range conn.rooms {
		r.detachRoom(room, connID)
	}

	if conn.UserID != "" {
		r.detachUser(conn.UserID, connID)
	}

	delete(r.conns, connID)
	conn.State = StateClosed

	return conn, true
}

// ConnectionsOf returns every connection bound to userID.
func (r *Registry) ConnectionsOf(userID string) []*Connection {
	return sortedConns(r.byUser[userID])
}

// Members returns the connections joined to room.
func (r *Registry) Members(room RoomID) []*Connection {
	return sortedConns(r.rooms[room])
}

// All returns every registered connection.
func (r *Registry) All() []*Connection {
	return sortedConns(r.conns)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	return len(r.rooms)
}

func (r *Registry) detachUser(userID, connID string) {
	set := r.byUser[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}

func (r *Registry) detachRoom(room RoomID, connID string) {
	members := r.rooms[room]
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

func sortedConns(set map[string]*Connection) []*Connection {
	out := make([]*Connection, 0, len(set))
	for _, conn := range set {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
