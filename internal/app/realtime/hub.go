package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"relaychat/internal/pkg/logx"
)

const eventChannelBuffer = 1024

// ErrHubStopped is returned by queries issued after Stop.
var ErrHubStopped = errors.New("hub stopped")

// Delivery is one room fan-out shared with other hub instances.
type Delivery struct {
	Origin      string `json:"origin"`
	Room        RoomID `json:"room"`
	Frame       []byte `json:"frame"`
	ExcludeUser string `json:"excludeUser,omitempty"`
}

// Relay forwards local room fan-outs to other instances. Publish must not block.
type Relay interface {
	Publish(d Delivery)
}

// Stats is a snapshot of hub counters.
type Stats struct {
	Connections   int    `json:"connections"`
	Identified    int    `json:"identified"`
	OnlineUsers   int    `json:"onlineUsers"`
	Rooms         int    `json:"rooms"`
	DroppedFrames uint64 `json:"droppedFrames"`
	Relayed       uint64 `json:"relayed"`
	Rejected      uint64 `json:"rejected"`
}

type connectEvent struct {
	peer    Peer
	subject string
}

type inboundEvent struct {
	connID string
	frame  []byte
}

type disconnectEvent struct {
	connID string
}

type relayedEvent struct {
	delivery Delivery
}

type queryEvent struct {
	run func()
}

// Hub owns the Registry, Presence and Router and applies every connect, inbound event,
// disconnect and relayed delivery in the order they were submitted.
type Hub struct {
	instanceID string
	relay      Relay

	registry *Registry
	presence *Presence
	router   *Router

	events chan any

	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	relayed  uint64
	rejected uint64

	logger zerolog.Logger
}

// HubOptions configures a Hub.
type HubOptions struct {
	// InstanceID tags deliveries published to the relay.
	InstanceID string

	// Relay is optional.
	Relay Relay
}

// NewHub returns a Hub; call Run to start it.
func NewHub(opts HubOptions) *Hub {
	hubLogger := logx.Component("Hub").With().Str("instance_id", opts.InstanceID).Logger()

	registry := NewRegistry()

	return &Hub{
		instanceID: opts.InstanceID,
		relay:      opts.Relay,
		registry:   registry,
		presence:   NewPresence(),
		router:     NewRouter(registry, hubLogger),
		events:     make(chan any, eventChannelBuffer),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     hubLogger,
	}
}

// InstanceID returns the id used to tag relayed deliveries.
func (h *Hub) InstanceID() string {
	return h.instanceID
}

// Run processes events until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)

	h.logger.Info().Msg("Hub loop started.")

	for {
		select {
		case ev := <-h.events:
			h.dispatch(ev)

		case <-h.stopChan:
			h.shutdown()
			return
		}
	}
}

// Stop ends Run and closes every connection. It is safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.logger.Info().Msg("Received stop signal.")
		close(h.stopChan)
	})
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) shutdown() {
	for _, conn := range h.registry.All() {
		h.registry.Drop(conn.ID())
		conn.Peer.Close()
	}

	// Peers submitted while stopping never reach the registry.
drain:
	for {
		select {
		case ev := <-h.events:
			if c, ok := ev.(connectEvent); ok {
				c.peer.Close()
			}
		default:
			break drain
		}
	}

	h.logger.Info().Msg("Hub loop stopped, all connections closed.")
}

func (h *Hub) stopping() bool {
	select {
	case <-h.stopChan:
		return true
	default:
		return false
	}
}

// submit queues ev unless the hub is stopping.
func (h *Hub) submit(ev any) bool {
	if h.stopping() {
		return false
	}

	select {
	case h.events <- ev:
		return true
	case <-h.stopChan:
		return false
	}
}

// Connect registers a new peer. subject is the authenticated user id the socket was
// opened with, or empty.
func (h *Hub) Connect(peer Peer, subject string) {
	if !h.submit(connectEvent{peer: peer, subject: subject}) {
		peer.Close()
	}
}

// Inbound hands a raw client frame to the hub.
func (h *Hub) Inbound(connID string, frame []byte) {
	h.submit(inboundEvent{connID: connID, frame: frame})
}

// Disconnect removes a connection.
func (h *Hub) Disconnect(connID string) {
	h.submit(disconnectEvent{connID: connID})
}

// Relayed fans out a delivery received from another instance.
func (h *Hub) Relayed(d Delivery) {
	h.submit(relayedEvent{delivery: d})
}

// query runs fn on the hub goroutine and waits for it.
func (h *Hub) query(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	ev := queryEvent{run: func() {
		fn()
		close(finished)
	}}

	if h.stopping() {
		return ErrHubStopped
	}

	select {
	case h.events <- ev:
	case <-h.stopChan:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Online returns the ids of online users.
func (h *Hub) Online(ctx context.Context) ([]string, error) {
	var users []string
	err := h.query(ctx, func() { users = h.presence.Online() })
	return users, err
}

// Stats returns current hub counters.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.query(ctx, func() {
		identified := 0
		for _, conn := range h.registry.All() {
			if conn.Identified() {
				identified++
			}
		}
		s = Stats{
			Connections:   h.registry.Len(),
			Identified:    identified,
			OnlineUsers:   len(h.presence.Online()),
			Rooms:         h.registry.RoomCount(),
			DroppedFrames: h.router.Dropped(),
			Relayed:       h.relayed,
			Rejected:      h.rejected,
		}
	})
	return s, err
}

func (h *Hub) dispatch(ev any) {
	switch e := ev.(type) {
	case connectEvent:
		h.handleConnect(e)
	case inboundEvent:
		h.handleInbound(e)
	case disconnectEvent:
		h.handleDisconnect(e.connID)
	case relayedEvent:
		h.handleRelayed(e.delivery)
	case queryEvent:
		e.run()
	}
}

func (h *Hub) handleConnect(e connectEvent) {
	conn := h.registry.Register(e.peer)
	conn.Subject = e.subject

	h.logger.Debug().
		Str("conn_id", conn.ID()).
		Str("subject", e.subject).
		Int("total_connections", h.registry.Len()).
		Msg("Connection registered.")
}

func (h *Hub) handleInbound(e inboundEvent) {
	conn, ok := h.registry.Get(e.connID)
	if !ok {
		h.logger.Debug().Str("conn_id", e.connID).Msg("Frame from unknown connection ignored.")
		return
	}

	ev, err := ParseInbound(e.frame)
	if err != nil {
		h.rejected++
		h.logger.Warn().Err(err).
			Str("conn_id", e.connID).
			Str("user_id", conn.UserID).
			Int("frame_len", len(e.frame)).
			Msg("Dropped malformed frame.")
		return
	}

	if _, isSetup := ev.(SetupEvent); !isSetup && !conn.Identified() {
		h.rejected++
		h.logger.Warn().
			Str("conn_id", e.connID).
			Str("event", string(ev.Name())).
			Msg("Event before setup dropped.")
		return
	}

	switch event := ev.(type) {
	case SetupEvent:
		h.handleSetup(conn, event)
	case RoomEvent:
		h.handleRoom(conn, event)
	case TypingEvent:
		h.fanout(Conversation(event.ChatID), stringFrame(event.Name(), event.ChatID), conn.UserID)
	case NewMessageEvent:
		h.handleNewMessage(conn, event)
	}
}

func (h *Hub) handleSetup(conn *Connection, e SetupEvent) {
	if conn.Subject != "" && conn.Subject != e.UserID {
		h.rejected++
		h.logger.Warn().
			Str("conn_id", conn.ID()).
			Str("subject", conn.Subject).
			Str("claimed_user_id", e.UserID).
			Msg("Setup identity does not match token subject, dropped.")
		return
	}

	previous, _ := h.registry.Identify(conn.ID(), e.UserID)
	moved := previous != e.UserID

	if moved && previous != "" {
		// The new identity does not inherit the previous user's rooms.
		for _, room := range conn.Rooms() {
			h.registry.Leave(conn.ID(), room)
		}
		conn.State = StateConnected

		if h.presence.Remove(previous) {
			h.router.EmitAll(stringFrame(EventUserOffline, previous), nil)
		}
	}

	h.registry.Join(conn.ID(), Inbox(e.UserID))
	if conn.State == StateConnected {
		conn.State = StateIdentified
	}

	connected, _ := Encode(EventConnected, nil)
	h.router.Emit(conn, connected)

	for _, userID := range h.presence.Online() {
		if userID != e.UserID {
			h.router.Emit(conn, stringFrame(EventUserOnline, userID))
		}
	}

	self := stringFrame(EventUserOnline, e.UserID)
	if moved && h.presence.Add(e.UserID) {
		h.router.EmitAll(self, nil)
	} else {
		h.router.Emit(conn, self)
	}

	h.logger.Info().
		Str("conn_id", conn.ID()).
		Str("user_id", e.UserID).
		Str("previous_user_id", previous).
		Int("user_connections", h.presence.Count(e.UserID)).
		Msg("Connection identified.")
}

func (h *Hub) handleRoom(conn *Connection, e RoomEvent) {
	room := Conversation(e.ChatID)

	if e.Event == EventJoinChat {
		h.registry.Join(conn.ID(), room)
		conn.State = StateActive
	} else {
		h.registry.Leave(conn.ID(), room)
		if conn.conversationCount() == 0 {
			conn.State = StateIdentified
		}
	}

	h.logger.Debug().
		Str("conn_id", conn.ID()).
		Str("user_id", conn.UserID).
		Str("event", string(e.Event)).
		Str("room", room.String()).
		Msg("Room membership changed.")
}

func (h *Hub) handleNewMessage(conn *Connection, e NewMessageEvent) {
	senderID := e.SenderID
	if senderID == "" {
		senderID = conn.UserID
	}

	if senderID != conn.UserID {
		h.rejected++
		h.logger.Warn().
			Str("conn_id", conn.ID()).
			Str("user_id", conn.UserID).
			Str("sender_id", senderID).
			Msg("new-message sender does not match connection identity, dropped.")
		return
	}

	received := h.fanout(Conversation(e.ChatID), EncodeRaw(EventMessageReceived, e.Raw), senderID)

	notified := 0
	notification := notificationFrame(e.Raw, e.ChatRaw)
	for _, memberID := range e.MemberIDs {
		if memberID == senderID {
			continue
		}
		notified += h.fanout(Inbox(memberID), notification, "")
	}

	h.logger.Debug().
		Str("message_id", e.MessageID).
		Str("chat_id", e.ChatID).
		Str("sender_id", senderID).
		Int("received", received).
		Int("notified", notified).
		Msg("Message fanned out.")
}

// fanout delivers locally and hands the delivery to the relay.
func (h *Hub) fanout(room RoomID, frame []byte, excludeUser string) int {
	delivered := h.router.Broadcast(room, frame, ExcludeUser(excludeUser))

	if h.relay != nil {
		h.relay.Publish(Delivery{
			Origin:      h.instanceID,
			Room:        room,
			Frame:       frame,
			ExcludeUser: excludeUser,
		})
	}

	return delivered
}

func (h *Hub) handleDisconnect(connID string) {
	conn, ok := h.registry.Drop(connID)
	if !ok {
		return
	}

	conn.Peer.Close()

	if conn.UserID != "" && h.presence.Remove(conn.UserID) {
		h.router.EmitAll(stringFrame(EventUserOffline, conn.UserID), nil)
	}

	h.logger.Debug().
		Str("conn_id", connID).
		Str("user_id", conn.UserID).
		Int("total_connections", h.registry.Len()).
		Msg("Connection dropped.")
}

func (h *Hub) handleRelayed(d Delivery) {
	if d.Origin == h.instanceID {
		return
	}

	h.relayed++
	h.router.Broadcast(d.Room, d.Frame, ExcludeUser(d.ExcludeUser))
}
