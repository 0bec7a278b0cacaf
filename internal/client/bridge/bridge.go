/*
Package bridge connects a client session to the hub. It owns one websocket, translates
user intents into socket events, and applies hub events to a state.Store.

All store access happens on the bridge's Loop; callers read the store through State.
*/
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/realtime"
	"relaychat/internal/app/user"
	"relaychat/internal/client/state"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/logx"
)

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 1 << 20
	sendBufferSize = 64

	// EventDisconnected is reported to the observer when the socket goes away.
	EventDisconnected realtime.EventName = "disconnected"
)

var (
	ErrClosed         = errors.New("bridge closed")
	ErrSendBufferFull = errors.New("send buffer full")
	ErrNoChatOpen     = errors.New("no conversation is open")
	ErrUnpopulated    = errors.New("message must carry its conversation and members")
)

// Observer is called on the loop after an event was applied to the store.
type Observer func(event realtime.EventName, st *state.Store)

// Config describes how to reach the hub.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL   string
	Token string

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the handshake, e.g. Origin.
	Header http.Header

	// TypingIdle is how long after the last keystroke stop-typing is sent.
	TypingIdle time.Duration

	Observer Observer
}

// Bridge is one live session.
type Bridge struct {
	cfg   Config
	me    user.Profile
	conn  *websocket.Conn
	store *state.Store
	loop  *Loop

	mu     sync.Mutex
	send   chan []byte
	closed bool

	closeOnce sync.Once
	done      chan struct{}

	// owned by the loop
	typingChat string
	idleTimer  *time.Timer
	idleGen    uint64

	logger zerolog.Logger
}

// Dial opens the socket, identifies the session with setup and starts applying hub
// events to st. st must not be used outside State afterwards.
func Dial(ctx context.Context, cfg Config, me user.Profile, st *state.Store) (*Bridge, error) {
	if me.ID == "" {
		return nil, errors.New("dial: user id is required")
	}

	endpoint, err := socketURL(cfg.URL, cfg.Token)
	if err != nil {
		return nil, err
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = state.TypingTimeout
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP %d)", cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	b := &Bridge{
		cfg:    cfg,
		me:     me,
		conn:   conn,
		store:  st,
		loop:   NewLoop(),
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logx.Component("Bridge").With().Str("user_id", me.ID).Logger(),
	}
	st.SetScheduler(b.schedule)

	if err := b.emit(realtime.EventSetup, me); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go b.loop.Run()
	go b.writePump()
	go b.readPump()

	b.logger.Info().Str("url", cfg.URL).Msg("Bridge connected.")
	return b, nil
}

func socketURL(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid socket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid socket url scheme %q", u.Scheme)
	}

	if token != "" {
		q := u.Query()
		q.Set(jwt.QueryTokenKey, token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Done is closed once the socket is gone, whether by Close or by the server.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// State runs fn on the loop with the store.
func (b *Bridge) State(ctx context.Context, fn func(st *state.Store)) error {
	return b.loop.Do(ctx, func() { fn(b.store) })
}

// Close tears the session down: the socket is closed, typing timers are cancelled and
// presence and typing state are forgotten. The bridge does not reconnect. Close must
// not be called from an Observer.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()

		_ = b.loop.Do(ctx, func() {
			b.cancelIdle()
			b.typingChat = ""
			b.store.ClearEphemeral()
		})

		b.closeSend()

		select {
		case <-b.done:
		case <-ctx.Done():
			_ = b.conn.Close()
			<-b.done
		}

		b.loop.Stop()
		b.logger.Info().Msg("Bridge closed.")
	})
	return nil
}

// schedule is the store's Scheduler: fn runs on the loop.
func (b *Bridge) schedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() {
		b.loop.Post(func() {
			fn()
			b.notify(realtime.EventStopTyping)
		})
	})
	return func() { t.Stop() }
}

// run executes fn on the loop and returns its error.
func (b *Bridge) run(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := b.loop.Do(ctx, func() { result <- fn() }); err != nil {
		if errors.Is(err, ErrLoopStopped) {
			return ErrClosed
		}
		return err
	}
	return <-result
}

// emit queues a frame for the write pump.
func (b *Bridge) emit(event realtime.EventName, data any) error {
	frame, err := realtime.Encode(event, data)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	select {
	case b.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (b *Bridge) closeSend() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.send)
	}
}

func (b *Bridge) notify(event realtime.EventName) {
	if b.cfg.Observer != nil {
		b.cfg.Observer(event, b.store)
	}
}

func (b *Bridge) readPump() {
	defer func() {
		b.closeSend()
		_ = b.conn.Close()

		b.loop.Post(func() {
			b.cancelIdle()
			b.typingChat = ""
			b.store.ClearEphemeral()
			b.notify(EventDisconnected)
		})
		close(b.done)
	}()

	b.conn.SetReadLimit(maxFrameSize)

	for {
		messageType, frame, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Info().Err(err).Msg("Socket closed by server")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		env, err := realtime.DecodeEnvelope(frame)
		if err != nil {
			b.logger.Warn().Err(err).Msg("Dropped malformed frame from hub")
			continue
		}

		if !b.loop.Post(func() { b.apply(env) }) {
			return
		}
	}
}

func (b *Bridge) writePump() {
	defer func() {
		_ = b.conn.Close()
	}()

	for frame := range b.send {
		if err := b.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			b.logger.Error().Err(err).Msg("Failed to set write deadline")
			return
		}
		if err := b.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			b.logger.Warn().Err(err).Msg("Error writing frame")
			return
		}
	}

	_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := b.conn.WriteMessage(websocket.CloseMessage, closing); err != nil {
		b.logger.Debug().Err(err).Msg("Error writing close message")
	}
}

// apply runs on the loop.
func (b *Bridge) apply(env realtime.Envelope) {
	switch env.Event {
	case realtime.EventConnected:
		b.logger.Debug().Msg("Session identified by hub.")

	case realtime.EventUserOnline, realtime.EventUserOffline:
		userID, err := idOf(env.Data)
		if err != nil {
			b.logger.Warn().Err(err).Str("event", string(env.Event)).Msg("Dropped presence event")
			return
		}
		if env.Event == realtime.EventUserOnline {
			b.store.SetOnline(userID)
		} else {
			b.store.SetOffline(userID)
		}

	case realtime.EventTyping, realtime.EventStopTyping:
		id, err := idOf(env.Data)
		if err != nil {
			b.logger.Warn().Err(err).Str("event", string(env.Event)).Msg("Dropped typing event")
			return
		}
		if env.Event == realtime.EventTyping {
			b.store.ApplyTyping(id)
		} else {
			b.store.ApplyStopTyping(id)
		}

	case realtime.EventMessageReceived:
		var m chat.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			b.logger.Warn().Err(err).Msg("Dropped message-received with bad payload")
			return
		}
		outcome := b.store.ApplyIncomingMessage(m)
		b.logger.Debug().Str("message_id", m.ID).Stringer("outcome", outcome).Msg("Message applied.")

	case realtime.EventNotification:
		var n chat.Notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			b.logger.Warn().Err(err).Msg("Dropped notification with bad payload")
			return
		}
		outcome := b.store.ApplyNotification(n)
		b.logger.Debug().Str("message_id", n.Message.ID).Stringer("outcome", outcome).Msg("Notification applied.")

	default:
		b.logger.Debug().Str("event", string(env.Event)).Msg("Ignored unknown event")
		return
	}

	b.notify(env.Event)
}
