/*
Package store is the durable store behind the REST surface: users, conversations and
messages.

Three backends implement Store: Postgres (pgx, goose migrations), MongoDB and an
in-memory map used in development and tests. Every backend returns conversations and
messages fully populated, with member and sender profiles resolved.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/user"
)

var (
	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("store: duplicate")

	// ErrNotMember is returned for membership changes that do not apply.
	ErrNotMember = errors.New("store: not a member")
)

const (
	// DefaultHistoryLimit bounds Messages when no limit is given.
	DefaultHistoryLimit = 200

	// DefaultSearchLimit bounds SearchUsers when no limit is given.
	DefaultSearchLimit = 20
)

// Store persists users, conversations and messages.
type Store interface {
	// CreateUser assigns ID and CreatedAt. A taken email yields ErrDuplicate.
	CreateUser(ctx context.Context, u *user.User) error
	UserByID(ctx context.Context, id string) (*user.User, error)
	UserByEmail(ctx context.Context, email string) (*user.User, error)
	Profiles(ctx context.Context, ids []string) ([]user.Profile, error)

	// SearchUsers matches name or email case-insensitively, excluding excludeID.
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]user.Profile, error)

	// DirectChat returns the direct conversation between two users or ErrNotFound.
	DirectChat(ctx context.Context, a, b string) (*chat.Chat, error)

	// CreateChat stores c using the ids of c.Users and c.Admin and returns it populated.
	// A second direct chat between the same pair yields ErrDuplicate.
	CreateChat(ctx context.Context, c *chat.Chat) (*chat.Chat, error)
	ChatByID(ctx context.Context, id string) (*chat.Chat, error)

	// ChatsOf lists the user's conversations, most recently active first.
	ChatsOf(ctx context.Context, userID string) ([]chat.Chat, error)
	RenameChat(ctx context.Context, chatID, name string) (*chat.Chat, error)

	// AddMember yields ErrDuplicate if the user is already a member.
	AddMember(ctx context.Context, chatID, userID string) (*chat.Chat, error)

	// RemoveMember yields ErrNotMember if the user is not a member.
	RemoveMember(ctx context.Context, chatID, userID string) (*chat.Chat, error)

	// CreateMessage assigns ID and CreatedAt, stores the message and makes it the
	// conversation's latest message. It returns the message populated with its sender
	// and conversation.
	CreateMessage(ctx context.Context, m *chat.Message) (*chat.Message, error)

	// Messages returns the conversation history, oldest first, at most limit entries
	// (the most recent ones).
	Messages(ctx context.Context, chatID string, limit int) ([]chat.Message, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// DirectKey is the order-independent identity of a direct conversation.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 || limit > fallback {
		return fallback
	}
	return limit
}

// sortChats orders conversations by latest activity, newest first.
func sortChats(chats []chat.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
}

func matchesQuery(u *user.User, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(strings.ToLower(u.Email), q)
}

func memberIDs(c *chat.Chat) ([]string, error) {
	ids := chat.Dedupe(c.MemberIDs())
	if len(ids) < 2 {
		return nil, fmt.Errorf("conversation needs at least two members: %w", ErrNotMember)
	}
	return ids, nil
}

func sortProfiles(profiles []user.Profile) {
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].Name == profiles[j].Name {
			return profiles[i].ID < profiles[j].ID
		}
		return profiles[i].Name < profiles[j].Name
	})
}
