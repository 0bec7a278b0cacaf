/*
Package chat defines the conversation and message shapes shared by the REST surface, the
realtime hub and the client state store.

A Message always travels populated: its sender profile and its conversation including the
member list. That is the exact object POST /api/messages returns and the new-message socket
event carries, so the hub can fan it out without a store lookup.
*/
package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
)

const (
	// MaxContentRunes bounds message text.
	MaxContentRunes = 4000

	// MinGroupOthers is how many members besides the creator a group needs.
	MinGroupOthers = 2

	// MaxGroupNameRunes bounds the group display name.
	MaxGroupNameRunes = 60
)

// Chat is a direct or group conversation.
type Chat struct {
	ID            string         `json:"id"`
	Name          string         `json:"chatName"`
	IsGroup       bool           `json:"isGroupChat"`
	Users         []user.Profile `json:"users"`
	Admin         *user.Profile  `json:"groupAdmin,omitempty"`
	LatestMessage *Message       `json:"latestMessage,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Message is an immutable chat message.
type Message struct {
	ID        string       `json:"id"`
	ChatID    string       `json:"chatId"`
	Sender    user.Profile `json:"sender"`
	Chat      *Chat        `json:"chat,omitempty"`
	Content   string       `json:"content,omitempty"`
	ImageKey  string       `json:"imageKey,omitempty"`
	ImageURL  string       `json:"imageUrl,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Notification pairs a message with the conversation it belongs to.
type Notification struct {
	Message Message `json:"message"`
	Chat    Chat    `json:"chat"`
}

// HasMember reports whether userID belongs to the conversation.
func (c *Chat) HasMember(userID string) bool {
	for _, u := range c.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// MemberIDs returns the ids of every member, in member order.
func (c *Chat) MemberIDs() []string {
	ids := make([]string, 0, len(c.Users))
	for _, u := range c.Users {
		ids = append(ids, u.ID)
	}
	return ids
}

// IsAdmin reports whether userID administers the group.
func (c *Chat) IsAdmin(userID string) bool {
	return c.IsGroup && c.Admin != nil && c.Admin.ID == userID
}

// Title is the name shown to viewerID: the group name, or the other member of a direct chat.
func (c *Chat) Title(viewerID string) string {
	if c.IsGroup {
		return c.Name
	}
	for _, u := range c.Users {
		if u.ID != viewerID {
			return u.Name
		}
	}
	return c.Name
}

// ConversationID returns the id of the message's conversation.
func (m *Message) ConversationID() string {
	if m.ChatID == "" && m.Chat != nil {
		return m.Chat.ID
	}
	return m.ChatID
}

// Preview returns a copy of m suitable for embedding as a chat's latest message.
// The embedded conversation is dropped to keep the shape acyclic.
func (m Message) Preview() *Message {
	m.Chat = nil
	return &m
}

// ValidateContent checks that a message carries text or an image and that text is bounded.
func ValidateContent(content, imageKey string) *errs.CustomError {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" && imageKey == "" {
		return errs.NewError(errs.ErrMessageEmpty)
	}

	if utf8.RuneCountInString(content) > MaxContentRunes {
		return errs.NewError(errs.ErrMessageContentTooLong)
	}

	return nil
}

// ValidateGroup checks the name and the number of other members of a new group.
func ValidateGroup(name string, others []string) *errs.CustomError {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n == 0 || n > MaxGroupNameRunes {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if len(Dedupe(others)) < MinGroupOthers {
		return errs.NewError(errs.ErrGroupTooSmall, MinGroupOthers)
	}

	return nil
}

// Dedupe drops empty and repeated ids, keeping first-seen order.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
