package realtime

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// RoomKind distinguishes conversation rooms from personal inbox rooms.
type RoomKind uint8

const (
	RoomConversation RoomKind = iota + 1
	RoomInbox
)

const (
	conversationPrefix = "chat:"
	inboxPrefix        = "inbox:"
)

// RoomID names a broadcast group. A conversation and an inbox with the same raw id are
// different rooms.
type RoomID struct {
	Kind RoomKind
	ID   string
}

// Conversation returns the room of a conversation.
func Conversation(chatID string) RoomID {
	return RoomID{Kind: RoomConversation, ID: chatID}
}

// Inbox returns the personal room of a user.
func Inbox(userID string) RoomID {
	return RoomID{Kind: RoomInbox, ID: userID}
}

func (r RoomID) String() string {
	switch r.Kind {
	case RoomConversation:
		return conversationPrefix + r.ID
	case RoomInbox:
		return inboxPrefix + r.ID
	default:
		return "invalid:" + r.ID
	}
}

// MarshalText encodes the room as "chat:<id>" or "inbox:<id>".
func (r RoomID) MarshalText() ([]byte, error) {
	if r.Kind != RoomConversation && r.Kind != RoomInbox {
		return nil, fmt.Errorf("invalid room kind %d", r.Kind)
	}
	return []byte(r.String()), nil
}

// UnmarshalText parses the form produced by MarshalText.
func (r *RoomID) UnmarshalText(text []byte) error {
	s := string(text)
	switch {
	case strings.HasPrefix(s, conversationPrefix) && len(s) > len(conversationPrefix):
		*r = Conversation(s[len(conversationPrefix):])
	case strings.HasPrefix(s, inboxPrefix) && len(s) > len(inboxPrefix):
		*r = Inbox(s[len(inboxPrefix):])
	default:
		return fmt.Errorf("invalid room id %q", s)
	}
	return nil
}

func sortRooms(rooms []RoomID) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].String() < rooms[j].String() })
}

// Exclude selects connections a broadcast must skip.
type Exclude func(*Connection) bool

// ExcludeNone skips nobody.
func ExcludeNone(*Connection) bool { return false }

// ExcludeUser skips every connection of userID. An empty id skips nobody.
func ExcludeUser(userID string) Exclude {
	if userID == "" {
		return ExcludeNone
	}
	return func(c *Connection) bool { return c.UserID == userID }
}

// ExcludeConn skips a single connection.
func ExcludeConn(connID string) Exclude {
	return func(c *Connection) bool { return c.ID() == connID }
}

// Router delivers frames to rooms of a Registry. Delivery never blocks: a recipient whose
// send buffer is full misses the frame.
type Router struct {
	registry *Registry
	logger   zerolog.Logger

	dropped uint64
}

// NewRouter returns a Router over registry.
func NewRouter(registry *Registry, logger zerolog.Logger) *Router {
	return &Router{registry: registry, logger: logger}
}

// Broadcast enqueues frame to every member of room not matched by skip and returns the
// number of recipients that accepted it.
func (rt *Router) Broadcast(room RoomID, frame []byte, skip Exclude) int {
	if skip == nil {
		skip = ExcludeNone
	}

	delivered := 0
	for _, conn := range rt.registry.Members(room) {
		if skip(conn) {
			continue
		}
		if rt.Emit(conn, frame) {
			delivered++
		}
	}
	return delivered
}

// Emit enqueues frame to a single connection.
func (rt *Router) Emit(conn *Connection, frame []byte) bool {
	if conn.Peer.Enqueue(frame) {
		return true
	}

	rt.dropped++
	rt.logger.Warn().
		Str("conn_id", conn.ID()).
		Str("user_id", conn.UserID).
		Msg("Send buffer full or closed, frame dropped.")
	return false
}

// EmitAll enqueues frame to every registered connection not matched by skip.
func (rt *Router) EmitAll(frame []byte, skip Exclude) int {
	if skip == nil {
		skip = ExcludeNone
	}

	delivered := 0
	for _, conn := range rt.registry.All() {
		if skip(conn) {
			continue
		}
		if rt.Emit(conn, frame) {
			delivered++
		}
	}
	return delivered
}

// Dropped returns how many frames were dropped so far.
func (rt *Router) Dropped() uint64 {
	return rt.dropped
}
