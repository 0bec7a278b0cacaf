package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// EventName is the name of a socket event.
type EventName string

const (
	EventSetup      EventName = "setup"
	EventJoinChat   EventName = "join-chat"
	EventLeaveChat  EventName = "leave-chat"
	EventTyping     EventName = "typing"
	EventStopTyping EventName = "stop-typing"
	EventNewMessage EventName = "new-message"

	EventConnected       EventName = "connected"
	EventMessageReceived EventName = "message-received"
	EventNotification    EventName = "notification"
	EventUserOnline      EventName = "user-online"
	EventUserOffline     EventName = "user-offline"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMissingField   = errors.New("missing required field")
)

// Envelope is the wire form of every frame in both directions.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame carrying data marshalled as JSON. A nil data omits the field.
func Encode(event EventName, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// EncodeRaw builds a frame around an already encoded JSON payload.
func EncodeRaw(event EventName, raw json.RawMessage) []byte {
	frame, _ := json.Marshal(Envelope{Event: event, Data: raw})
	return frame
}

// DecodeEnvelope parses a frame without interpreting its payload.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if !gjson.ValidBytes(frame) {
		return env, ErrMalformedFrame
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("%w: no event name", ErrMalformedFrame)
	}
	return env, nil
}

// Inbound is a validated client to hub event.
type Inbound interface {
	Name() EventName
}

// SetupEvent binds the connection to a user identity.
type SetupEvent struct {
	UserID   string
	UserName string
}

// RoomEvent is join-chat or leave-chat.
type RoomEvent struct {
	Event  EventName
	ChatID string
}

// TypingEvent is typing or stop-typing.
type TypingEvent struct {
	ChatID string
	Stop   bool
}

// NewMessageEvent carries a populated message for fan-out. Raw is relayed unchanged.
type NewMessageEvent struct {
	MessageID string
	ChatID    string
	SenderID  string
	MemberIDs []string
	Raw       json.RawMessage
	ChatRaw   json.RawMessage
}

func (SetupEvent) Name() EventName  { return EventSetup }
func (e RoomEvent) Name() EventName { return e.Event }

func (e TypingEvent) Name() EventName {
	if e.Stop {
		return EventStopTyping
	}
	return EventTyping
}

func (NewMessageEvent) Name() EventName { return EventNewMessage }

// ParseInbound decodes and validates a client frame.
func ParseInbound(frame []byte) (Inbound, error) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		return nil, err
	}

	switch env.Event {
	case EventSetup:
		return parseSetup(env.Data)
	case EventJoinChat, EventLeaveChat:
		chatID, err := parseChatID(env.Data)
		if err != nil {
			return nil, err
		}
		return RoomEvent{Event: env.Event, ChatID: chatID}, nil
	case EventTyping, EventStopTyping:
		chatID, err := parseChatID(env.Data)
		if err != nil {
			return nil, err
		}
		return TypingEvent{ChatID: chatID, Stop: env.Event == EventStopTyping}, nil
	case EventNewMessage:
		return parseNewMessage(env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func parseSetup(data json.RawMessage) (Inbound, error) {
	id := gjson.GetBytes(data, "id")
	if id.Type != gjson.String || id.Str == "" {
		return nil, fmt.Errorf("%w: setup id", ErrMissingField)
	}
	return SetupEvent{UserID: id.Str, UserName: gjson.GetBytes(data, "name").String()}, nil
}

// parseChatID accepts a bare string or an object with an id.
func parseChatID(data json.RawMessage) (string, error) {
	result := gjson.ParseBytes(data)

	switch {
	case result.Type == gjson.String && result.Str != "":
		return result.Str, nil
	case result.IsObject():
		if id := result.Get("id"); id.Type == gjson.String && id.Str != "" {
			return id.Str, nil
		}
	}

	return "", fmt.Errorf("%w: conversation id", ErrMissingField)
}

func parseNewMessage(data json.RawMessage) (Inbound, error) {
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: new-message payload", ErrMalformedFrame)
	}

	fields := gjson.GetManyBytes(data, "id", "chat.id", "chat.users", "sender.id", "chat")

	chatID := fields[1]
	if chatID.Type != gjson.String || chatID.Str == "" {
		return nil, fmt.Errorf("%w: chat.id", ErrMissingField)
	}

	users := fields[2]
	if !users.IsArray() {
		return nil, fmt.Errorf("%w: chat.users", ErrMissingField)
	}

	members := make([]string, 0, len(users.Array()))
	for _, u := range users.Array() {
		id := u.Get("id")
		if id.Type == gjson.String && id.Str != "" {
			members = append(members, id.Str)
		}
	}

	return NewMessageEvent{
		MessageID: fields[0].String(),
		ChatID:    chatID.Str,
		SenderID:  fields[3].String(),
		MemberIDs: members,
		Raw:       append(json.RawMessage(nil), data...),
		ChatRaw:   json.RawMessage(fields[4].Raw),
	}, nil
}

// notificationFrame builds {"event":"notification","data":{"message":...,"chat":...}}.
func notificationFrame(message, chat json.RawMessage) []byte {
	payload, _ := json.Marshal(struct {
		Message json.RawMessage `json:"message"`
		Chat    json.RawMessage `json:"chat"`
	}{Message: message, Chat: chat})
	return EncodeRaw(EventNotification, payload)
}

func stringFrame(event EventName, value string) []byte {
	frame, _ := Encode(event, value)
	return frame
}
