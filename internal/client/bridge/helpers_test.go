package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/realtime"
	"relaychat/internal/app/user"
	"relaychat/internal/client/state"
)

const waitFor = 2 * time.Second

// hubServer serves the hub over a real websocket. The token query parameter is
// taken as the authenticated user id.
type hubServer struct {
	hub *realtime.Hub
	url string
}

func startHubServer(t *testing.T) *hubServer {
	t.Helper()

	hub := realtime.NewHub(realtime.HubOptions{InstanceID: "bridge-test"})
	go hub.Run()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		realtime.NewClient(hub, conn).Serve(r.URL.Query().Get("token"))
	}))

	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		<-hub.Done()
	})

	return &hubServer{hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

// waitRooms blocks until the hub has n non-empty rooms.
func (s *hubServer) waitRooms(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		stats, err := s.hub.Stats(context.Background())
		return err == nil && stats.Rooms == n
	}, waitFor, 10*time.Millisecond)
}

type recorder struct {
	mu     sync.Mutex
	events []realtime.EventName
}

func (r *recorder) observe(event realtime.EventName, _ *state.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) count(event realtime.EventName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type session struct {
	*Bridge
	rec *recorder
}

func dial(t *testing.T, s *hubServer, me user.Profile, mutate ...func(*Config)) *session {
	t.Helper()

	rec := &recorder{}
	cfg := Config{URL: s.url, Token: me.ID, Observer: rec.observe}
	for _, m := range mutate {
		m(&cfg)
	}

	b, err := Dial(context.Background(), cfg, me, state.New(me.ID))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return &session{Bridge: b, rec: rec}
}

// eventually polls the session's store on its loop.
func (s *session) eventually(t *testing.T, cond func(st *state.Store) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		ok := false
		err := s.State(context.Background(), func(st *state.Store) { ok = cond(st) })
		return err == nil && ok
	}, waitFor, 10*time.Millisecond, msg)
}

func (s *session) snapshot(t *testing.T, fn func(st *state.Store)) {
	t.Helper()
	require.NoError(t, s.State(context.Background(), fn))
}

var (
	alice = user.Profile{ID: "alice", Name: "Alice"}
	bob   = user.Profile{ID: "bob", Name: "Bob"}
)

func directChat(id string, members ...user.Profile) chat.Chat {
	return chat.Chat{ID: id, Name: "sender", Users: members, CreatedAt: time.Now(), UpdatedAt: time.Now()}
}

func populated(id string, c chat.Chat, sender user.Profile, content string) chat.Message {
	return chat.Message{
		ID:        id,
		ChatID:    c.ID,
		Sender:    sender,
		Chat:      &c,
		Content:   content,
		CreatedAt: time.Now(),
	}
}
