package api

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"relaychat/internal/app/realtime"
	"relaychat/internal/app/store"
	"relaychat/internal/configs"
	"relaychat/internal/handler"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/pow"
)

func newServer(t *testing.T, difficulty int) *httptest.Server {
	t.Helper()

	hub := realtime.NewHub(realtime.HubOptions{InstanceID: "api-test"})
	go hub.Run()
	t.Cleanup(hub.Stop)

	powManager := pow.NewManager(difficulty)
	t.Cleanup(powManager.Stop)

	router, stop := handler.Router(&handler.AppDeps{
		Config: &configs.AppConfig{Environment: "development", JWTSecret: "api-test-secret"},
		Store:  store.NewMemory(),
		Hub:    hub,
		Pow:    powManager,
		Limits: handler.Limits{AuthRate: rate.Inf, AuthBurst: 1000, SocketRate: rate.Inf, SocketBurst: 1000},
	})
	t.Cleanup(stop)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func signUp(t *testing.T, srv *httptest.Server, name string) *Client {
	t.Helper()
	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Register(context.Background(), name, name+"@example.com", "secret1")
	require.NoError(t, err)
	require.NotEmpty(t, c.Token())
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)
	_, err = New("://nope")
	assert.Error(t, err)
}

func TestSocketURL(t *testing.T) {
	c, err := New("https://chat.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws", c.SocketURL())

	c, err = New("http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", c.SocketURL())
}

func TestRegisterSolvesProofOfWork(t *testing.T) {
	srv := newServer(t, 1)
	ctx := context.Background()

	c, err := New(srv.URL)
	require.NoError(t, err)

	session, err := c.Register(ctx, "ada", "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ada", session.User.Name)

	profile, err := c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, profile.ID)
}

func TestLoginAndErrors(t *testing.T) {
	srv := newServer(t, 0)
	ctx := context.Background()
	signUp(t, srv, "ada")

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Login(ctx, "ada@example.com", "wrong-password")
	require.Error(t, err)
	assert.Equal(t, errs.ErrInvalidCredentials, CodeOf(err))

	session, err := c.Login(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, session.Token, c.Token())

	anonymous, err := New(srv.URL)
	require.NoError(t, err)
	_, err = anonymous.Chats(ctx)
	assert.Equal(t, errs.ErrUnauthorized, CodeOf(err))
}

func TestConversationFlow(t *testing.T) {
	srv := newServer(t, 0)
	ctx := context.Background()

	ada := signUp(t, srv, "ada")
	bob := signUp(t, srv, "bob")

	found, err := ada.SearchUsers(ctx, "bob", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)

	direct, err := ada.AccessChat(ctx, found[0].ID)
	require.NoError(t, err)
	assert.False(t, direct.IsGroup)

	sent, err := ada.SendMessage(ctx, direct.ID, "hello", "")
	require.NoError(t, err)
	require.NotNil(t, sent.Chat)
	assert.Len(t, sent.Chat.Users, 2, "returned message is populated for fan-out")

	history, err := bob.Messages(ctx, direct.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)

	chats, err := bob.Chats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.NotNil(t, chats[0].LatestMessage)
	assert.Equal(t, sent.ID, chats[0].LatestMessage.ID)

	_, err = bob.SendMessage(ctx, direct.ID, "", "")
	assert.Equal(t, errs.ErrMessageEmpty, CodeOf(err))

	online, err := ada.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestGroupManagement(t *testing.T) {
	srv := newServer(t, 0)
	ctx := context.Background()

	ada := signUp(t, srv, "ada")
	bob := signUp(t, srv, "bob")
	cyd := signUp(t, srv, "cyd")
	dan := signUp(t, srv, "dan")

	ids := map[string]string{}
	for name, c := range map[string]*Client{"bob": bob, "cyd": cyd, "dan": dan} {
		p, err := c.Profile(ctx)
		require.NoError(t, err)
		ids[name] = p.ID
	}

	_, err := ada.CreateGroup(ctx, "crew", []string{ids["bob"]})
	assert.Equal(t, errs.ErrGroupTooSmall, CodeOf(err))

	group, err := ada.CreateGroup(ctx, "crew", []string{ids["bob"], ids["cyd"]})
	require.NoError(t, err)
	assert.True(t, group.IsGroup)
	assert.Len(t, group.Users, 3)

	renamed, err := bob.RenameGroup(ctx, group.ID, "the crew")
	require.NoError(t, err)
	assert.Equal(t, "the crew", renamed.Name)

	_, err = bob.AddToGroup(ctx, group.ID, ids["dan"])
	assert.Equal(t, errs.ErrNotGroupAdmin, CodeOf(err))

	added, err := ada.AddToGroup(ctx, group.ID, ids["dan"])
	require.NoError(t, err)
	assert.Len(t, added.Users, 4)

	left, err := dan.RemoveFromGroup(ctx, group.ID, ids["dan"])
	require.NoError(t, err)
	assert.Len(t, left.Users, 3)

	_, err = dan.Messages(ctx, group.ID, 10)
	assert.Equal(t, errs.ErrNotChatMember, CodeOf(err))
}

func TestUploadWithoutStorage(t *testing.T) {
	srv := newServer(t, 0)
	ada := signUp(t, srv, "ada")

	_, err := ada.UploadImage(context.Background(), "cat.png", "image/png", bytes.NewReader([]byte("png")))
	assert.Equal(t, errs.ErrStorageDisabled, CodeOf(err))
}
