package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
)

func TestSearchUsersExcludesCaller(t *testing.T) {
	srv := newTestServer(t)
	ada := srv.register(t, "ada")
	srv.register(t, "adam")
	srv.register(t, "bob")

	var found []user.Profile
	srv.ok(t, http.MethodGet, "/api/users/search?search=ada", ada.Token, nil, &found)
	require.Len(t, found, 1)
	assert.Equal(t, "adam", found[0].Name)

	var profile struct {
		User user.Profile `json:"user"`
	}
	srv.ok(t, http.MethodGet, "/api/users/profile", ada.Token, nil, &profile)
	assert.Equal(t, ada.User.ID, profile.User.ID)
}

func TestAccessChatIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	ada := srv.register(t, "ada")
	bob := srv.register(t, "bob")

	var first, second chat.Chat
	srv.ok(t, http.MethodPost, "/api/chats", ada.Token, AccessChatInput{UserID: bob.User.ID}, &first)
	srv.ok(t, http.MethodPost, "/api/chats", bob.Token, AccessChatInput{UserID: ada.User.ID}, &second)

	assert.Equal(t, first.ID, second.ID)
	assert.False(t, first.IsGroup)
	assert.ElementsMatch(t, []string{ada.User.ID, bob.User.ID}, first.MemberIDs())

	_, env := srv.do(t, http.MethodPost, "/api/chats", ada.Token, AccessChatInput{UserID: ada.User.ID})
	assert.Equal(t, errs.ErrInvalidParams, env.Code)

	_, env = srv.do(t, http.MethodPost, "/api/chats", ada.Token, AccessChatInput{UserID: "ghost"})
	assert.Equal(t, errs.ErrUserNotFound, env.Code)
}

func TestGroupLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ada := srv.register(t, "ada")
	bob := srv.register(t, "bob")
	cy := srv.register(t, "cy")
	dee := srv.register(t, "dee")

	_, env := srv.do(t, http.MethodPost, "/api/chats/group", ada.Token,
		CreateGroupInput{Name: "Crew", Users: []string{bob.User.ID, ada.User.ID}})
	assert.Equal(t, errs.ErrGroupTooSmall, env.Code, "the creator does not count as another member")

	var group chat.Chat
	status, env := srv.do(t, http.MethodPost, "/api/chats/group", ada.Token,
		CreateGroupInput{Name: " Crew ", Users: []string{bob.User.ID, cy.User.ID}})
	require.Equal(t, http.StatusCreated, status, env.Message)
	require.NoError(t, jsonUnmarshal(env.Data, &group))
	assert.Equal(t, "Crew", group.Name)
	assert.True(t, group.IsAdmin(ada.User.ID))
	assert.Equal(t, []string{ada.User.ID, bob.User.ID, cy.User.ID}, group.MemberIDs())

	var renamed chat.Chat
	srv.ok(t, http.MethodPut, "/api/chats/group/rename", bob.Token, RenameGroupInput{ChatID: group.ID, Name: "Crew 2"}, &renamed)
	assert.Equal(t, "Crew 2", renamed.Name)

	_, env = srv.do(t, http.MethodPut, "/api/chats/group/rename", dee.Token, RenameGroupInput{ChatID: group.ID, Name: "Mine"})
	assert.Equal(t, errs.ErrNotChatMember, env.Code)

	_, env = srv.do(t, http.MethodPut, "/api/chats/group/add", bob.Token, GroupMemberInput{ChatID: group.ID, UserID: dee.User.ID})
	assert.Equal(t, errs.ErrNotGroupAdmin, env.Code)

	var added chat.Chat
	srv.ok(t, http.MethodPut, "/api/chats/group/add", ada.Token, GroupMemberInput{ChatID: group.ID, UserID: dee.User.ID}, &added)
	assert.True(t, added.HasMember(dee.User.ID))

	_, env = srv.do(t, http.MethodPut, "/api/chats/group/remove", bob.Token, GroupMemberInput{ChatID: group.ID, UserID: cy.User.ID})
	assert.Equal(t, errs.ErrNotGroupAdmin, env.Code)

	var left chat.Chat
	srv.ok(t, http.MethodPut, "/api/chats/group/remove", bob.Token, GroupMemberInput{ChatID: group.ID, UserID: bob.User.ID}, &left)
	assert.False(t, left.HasMember(bob.User.ID))

	var direct chat.Chat
	srv.ok(t, http.MethodPost, "/api/chats", ada.Token, AccessChatInput{UserID: bob.User.ID}, &direct)
	_, env = srv.do(t, http.MethodPut, "/api/chats/group/rename", ada.Token, RenameGroupInput{ChatID: direct.ID, Name: "x"})
	assert.Equal(t, errs.ErrNotGroupChat, env.Code)

	var chats []chat.Chat
	srv.ok(t, http.MethodGet, "/api/chats", ada.Token, nil, &chats)
	require.Len(t, chats, 2)
	assert.Equal(t, direct.ID, chats[0].ID, "most recently active first")
}
