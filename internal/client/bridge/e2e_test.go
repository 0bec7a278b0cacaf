package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/realtime"
	"relaychat/internal/app/store"
	"relaychat/internal/client/api"
	"relaychat/internal/client/state"
	"relaychat/internal/configs"
	"relaychat/internal/handler"
	"relaychat/internal/pkg/pow"
)

var appOrigin = http.Header{"Origin": {"http://app.test"}}

type fullStack struct {
	srv *httptest.Server
	hub *realtime.Hub
}

func startFullStack(t *testing.T) *fullStack {
	t.Helper()

	hub := realtime.NewHub(realtime.HubOptions{InstanceID: "e2e"})
	go hub.Run()

	powManager := pow.NewManager(0)
	router, stop := handler.Router(&handler.AppDeps{
		Config: &configs.AppConfig{Environment: "production", JWTSecret: "e2e-secret", AllowedOrigins: []string{"http://app.test"}},
		Store:  store.NewMemory(),
		Hub:    hub,
		Pow:    powManager,
		Limits: handler.Limits{AuthRate: rate.Inf, AuthBurst: 1000, SocketRate: rate.Inf, SocketBurst: 1000},
	})
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		stop()
		powManager.Stop()
		hub.Stop()
		<-hub.Done()
	})
	return &fullStack{srv: srv, hub: hub}
}

type participant struct {
	rest   *api.Client
	bridge *Bridge
	rec    *recorder
}

func (f *fullStack) join(t *testing.T, name string) *participant {
	t.Helper()
	ctx := context.Background()

	rest, err := api.New(f.srv.URL)
	require.NoError(t, err)
	session, err := rest.Register(ctx, name, name+"@example.com", "secret1")
	require.NoError(t, err)

	rec := &recorder{}
	b, err := Dial(ctx, Config{
		URL:      rest.SocketURL(),
		Token:    rest.Token(),
		Header:   appOrigin,
		Observer: rec.observe,
	}, session.User, state.New(session.User.ID))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return &participant{rest: rest, bridge: b, rec: rec}
}

func (p *participant) eventually(t *testing.T, cond func(st *state.Store) bool, msg string) {
	t.Helper()
	(&session{Bridge: p.bridge}).eventually(t, cond, msg)
}

func TestEndToEndNotificationThenOpen(t *testing.T) {
	stack := startFullStack(t)
	ctx := context.Background()

	ada := stack.join(t, "ada")
	bob := stack.join(t, "bob")

	var bobID string
	require.NoError(t, bob.bridge.State(ctx, func(st *state.Store) { bobID = st.Me() }))
	ada.eventually(t, func(st *state.Store) bool { return st.IsOnline(bobID) }, "presence")

	direct, err := ada.rest.AccessChat(ctx, bobID)
	require.NoError(t, err)

	chats, err := bob.rest.Chats(ctx)
	require.NoError(t, err)
	require.NoError(t, bob.bridge.State(ctx, func(st *state.Store) { st.SetChats(chats) }))

	require.NoError(t, ada.bridge.OpenChat(ctx, direct.ID, nil))
	require.Eventually(t, func() bool {
		stats, err := stack.hub.Stats(ctx)
		return err == nil && stats.Rooms == 3
	}, waitFor, 10*time.Millisecond)

	sent, err := ada.rest.SendMessage(ctx, direct.ID, "hello", "")
	require.NoError(t, err)
	require.NoError(t, ada.bridge.PublishMessage(ctx, sent))

	bob.eventually(t, func(st *state.Store) bool { return st.Unread(direct.ID) == 1 }, "notification counted")

	history, err := bob.rest.Messages(ctx, direct.ID, 0)
	require.NoError(t, err)
	require.NoError(t, bob.bridge.OpenChat(ctx, direct.ID, history))

	require.NoError(t, bob.bridge.State(ctx, func(st *state.Store) {
		assert.Zero(t, st.Unread(direct.ID))
		assert.Empty(t, st.Notifications())

		msgs := st.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "hello", msgs[0].Content)

		summaries := st.Chats()
		require.Len(t, summaries, 1)
		assert.Equal(t, sent.ID, summaries[0].LatestMessage.ID)
	}))

	require.NoError(t, ada.bridge.State(ctx, func(st *state.Store) {
		assert.Equal(t, []chat.Message{stripChat(sent)}, st.Messages())
	}))
}

func TestEndToEndRejectsForeignToken(t *testing.T) {
	stack := startFullStack(t)

	_, err := Dial(context.Background(), Config{
		URL:    stack.srv.URL + "/ws",
		Token:  "not-a-token",
		Header: appOrigin,
	}, alice, state.New(alice.ID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func stripChat(m chat.Message) chat.Message {
	m.Chat = nil
	return m
}
