package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
)

func sampleChat() Chat {
	ada := user.Profile{ID: "u1", Name: "Ada"}
	bob := user.Profile{ID: "u2", Name: "Bob"}
	return Chat{ID: "c1", Name: "sender", Users: []user.Profile{ada, bob}}
}

func TestChatMembership(t *testing.T) {
	c := sampleChat()
	assert.True(t, c.HasMember("u1"))
	assert.False(t, c.HasMember("u3"))
	assert.Equal(t, []string{"u1", "u2"}, c.MemberIDs())
	assert.Equal(t, "Bob", c.Title("u1"))
	assert.Equal(t, "Ada", c.Title("u2"))
	assert.False(t, c.IsAdmin("u1"))
}

func TestGroupTitleAndAdmin(t *testing.T) {
	c := sampleChat()
	c.IsGroup = true
	c.Name = "Team"
	c.Admin = &c.Users[0]
	assert.Equal(t, "Team", c.Title("u1"))
	assert.True(t, c.IsAdmin("u1"))
	assert.False(t, c.IsAdmin("u2"))
}

func TestMessageWireShape(t *testing.T) {
	c := sampleChat()
	m := Message{ID: "m1", Sender: c.Users[0], Chat: &c, Content: "hello", CreatedAt: time.Unix(0, 0).UTC()}

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	assert.Equal(t, "m1", gjson.GetBytes(raw, "id").String())
	assert.Equal(t, "u1", gjson.GetBytes(raw, "sender.id").String())
	assert.Equal(t, "c1", gjson.GetBytes(raw, "chat.id").String())
	assert.True(t, gjson.GetBytes(raw, "chat.users").IsArray())
	assert.False(t, gjson.GetBytes(raw, "imageKey").Exists())
}

func TestConversationID(t *testing.T) {
	c := sampleChat()
	assert.Equal(t, "c1", (&Message{Chat: &c}).ConversationID())
	assert.Equal(t, "c9", (&Message{ChatID: "c9", Chat: &c}).ConversationID())
	assert.Empty(t, (&Message{}).ConversationID())
}

func TestPreviewDropsChat(t *testing.T) {
	c := sampleChat()
	m := Message{ID: "m1", Chat: &c}
	p := m.Preview()
	assert.Nil(t, p.Chat)
	assert.NotNil(t, m.Chat, "original untouched")
}

func TestValidateContent(t *testing.T) {
	assert.Nil(t, ValidateContent("hi", ""))
	assert.Nil(t, ValidateContent("", "images/a.png"))
	assert.Equal(t, errs.ErrMessageEmpty, ValidateContent("   ", "").Code)
	assert.Equal(t, errs.ErrMessageContentTooLong, ValidateContent(strings.Repeat("x", MaxContentRunes+1), "").Code)
}

func TestValidateGroup(t *testing.T) {
	assert.Nil(t, ValidateGroup("Team", []string{"u2", "u3"}))
	assert.Equal(t, errs.ErrGroupTooSmall, ValidateGroup("Team", []string{"u2", "u2", ""}).Code)
	assert.Equal(t, errs.ErrInvalidParams, ValidateGroup(" ", []string{"u2", "u3"}).Code)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Dedupe([]string{"a", "", "b", "a"}))
}
