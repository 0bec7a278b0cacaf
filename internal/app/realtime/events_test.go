package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseInbound(t *testing.T) {
	ev, err := ParseInbound([]byte(`{"event":"setup","data":{"id":"u1","name":"Ada"}}`))
	require.NoError(t, err)
	assert.Equal(t, SetupEvent{UserID: "u1", UserName: "Ada"}, ev)
	assert.Equal(t, EventSetup, ev.Name())

	ev, err = ParseInbound([]byte(`{"event":"join-chat","data":"c1"}`))
	require.NoError(t, err)
	assert.Equal(t, RoomEvent{Event: EventJoinChat, ChatID: "c1"}, ev)

	ev, err = ParseInbound([]byte(`{"event":"leave-chat","data":{"id":"c1"}}`))
	require.NoError(t, err)
	assert.Equal(t, RoomEvent{Event: EventLeaveChat, ChatID: "c1"}, ev)

	ev, err = ParseInbound([]byte(`{"event":"stop-typing","data":"c1"}`))
	require.NoError(t, err)
	assert.Equal(t, TypingEvent{ChatID: "c1", Stop: true}, ev)
	assert.Equal(t, EventStopTyping, ev.Name())
}

func TestParseInboundRejects(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"event":`,
		"no event":          `{"data":"c1"}`,
		"unknown event":     `{"event":"shout","data":"c1"}`,
		"setup without id":  `{"event":"setup","data":{"name":"Ada"}}`,
		"setup numeric id":  `{"event":"setup","data":{"id":7}}`,
		"join without id":   `{"event":"join-chat"}`,
		"typing empty id":   `{"event":"typing","data":""}`,
		"message no chat":   `{"event":"new-message","data":{"id":"m1","sender":{"id":"u1"}}}`,
		"message no users":  `{"event":"new-message","data":{"id":"m1","chat":{"id":"c1"}}}`,
		"message users obj": `{"event":"new-message","data":{"id":"m1","chat":{"id":"c1","users":{"id":"u1"}}}}`,
		"message null":      `{"event":"new-message","data":null}`,
	}

	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInbound([]byte(frame))
			assert.Error(t, err)
		})
	}
}

func TestParseNewMessage(t *testing.T) {
	m := message("m1", "c1", "alice", "alice", "bob", "carol")
	frame := mustFrame(t, EventNewMessage, m)

	ev, err := ParseInbound(frame)
	require.NoError(t, err)

	nm, ok := ev.(NewMessageEvent)
	require.True(t, ok)
	assert.Equal(t, "m1", nm.MessageID)
	assert.Equal(t, "c1", nm.ChatID)
	assert.Equal(t, "alice", nm.SenderID)
	assert.Equal(t, []string{"alice", "bob", "carol"}, nm.MemberIDs)
	assert.Equal(t, "c1", gjson.GetBytes(nm.ChatRaw, "id").String())

	var back map[string]any
	require.NoError(t, json.Unmarshal(nm.Raw, &back))
	assert.Equal(t, "hello", back["content"])
}

func TestNotificationFrame(t *testing.T) {
	frame := notificationFrame(json.RawMessage(`{"id":"m1"}`), json.RawMessage(`{"id":"c1"}`))
	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, EventNotification, env.Event)
	assert.Equal(t, "m1", gjson.GetBytes(env.Data, "message.id").String())
	assert.Equal(t, "c1", gjson.GetBytes(env.Data, "chat.id").String())
}

func TestEncodeWithoutData(t *testing.T) {
	frame, err := Encode(EventConnected, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"connected"}`, string(frame))
}
