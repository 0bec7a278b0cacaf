package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/user"
)

type memChat struct {
	id        string
	name      string
	isGroup   bool
	adminID   string
	members   []string
	latestID  string
	directKey string
	createdAt time.Time
	updatedAt time.Time
}

type memMessage struct {
	id        string
	chatID    string
	senderID  string
	content   string
	imageKey  string
	createdAt time.Time
}

// Memory is a Store held in process memory.
type Memory struct {
	mu sync.RWMutex

	users    map[string]*user.User
	emails   map[string]string
	chats    map[string]*memChat
	direct   map[string]string
	messages map[string][]*memMessage
	byID     map[string]*memMessage

	now func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*user.User),
		emails:   make(map[string]string),
		chats:    make(map[string]*memChat),
		direct:   make(map[string]string),
		messages: make(map[string][]*memMessage),
		byID:     make(map[string]*memMessage),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// tick returns a timestamp strictly after the previous one so ordering is total.
func (s *Memory) tick(prev time.Time) time.Time {
	t := s.now()
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

func (s *Memory) CreateUser(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.emails[u.Email]; taken {
		return fmt.Errorf("email %q: %w", u.Email, ErrDuplicate)
	}

	u.ID = uuid.NewString()
	u.CreatedAt = s.now()

	stored := *u
	s.users[u.ID] = &stored
	s.emails[u.Email] = u.ID
	return nil
}

func (s *Memory) UserByID(_ context.Context, id string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	out := *u
	return &out, nil
}

func (s *Memory) UserByEmail(ctx context.Context, email string) (*user.User, error) {
	s.mu.RLock()
	id, ok := s.emails[email]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("email %q: %w", email, ErrNotFound)
	}
	return s.UserByID(ctx, id)
}

func (s *Memory) Profiles(_ context.Context, ids []string) ([]user.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.profilesLocked(ids), nil
}

func (s *Memory) profilesLocked(ids []string) []user.Profile {
	out := make([]user.Profile, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u.Profile())
		}
	}
	return out
}

func (s *Memory) SearchUsers(_ context.Context, query, excludeID string, limit int) ([]user.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = normalizeLimit(limit, DefaultSearchLimit)

	out := []user.Profile{}
	for _, u := range s.users {
		if u.ID == excludeID || !matchesQuery(u, query) {
			continue
		}
		out = append(out, u.Profile())
	}

	sortProfiles(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) DirectChat(_ context.Context, a, b string) (*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.direct[DirectKey(a, b)]
	if !ok {
		return nil, fmt.Errorf("direct chat %s: %w", DirectKey(a, b), ErrNotFound)
	}
	return s.populateLocked(s.chats[id]), nil
}

func (s *Memory) CreateChat(_ context.Context, c *chat.Chat) (*chat.Chat, error) {
	ids, err := memberIDs(c)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.users[id]; !ok {
			return nil, fmt.Errorf("member %q: %w", id, ErrNotFound)
		}
	}

	row := &memChat{
		id:      uuid.NewString(),
		name:    c.Name,
		isGroup: c.IsGroup,
		members: ids,
	}
	if c.Admin != nil {
		row.adminID = c.Admin.ID
	}

	if !c.IsGroup {
		row.directKey = DirectKey(ids[0], ids[1])
		if _, exists := s.direct[row.directKey]; exists {
			return nil, fmt.Errorf("direct chat %s: %w", row.directKey, ErrDuplicate)
		}
		s.direct[row.directKey] = row.id
	}

	row.createdAt = s.now()
	row.updatedAt = row.createdAt
	s.chats[row.id] = row

	return s.populateLocked(row), nil
}

func (s *Memory) ChatByID(_ context.Context, id string) (*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat %q: %w", id, ErrNotFound)
	}
	return s.populateLocked(row), nil
}

func (s *Memory) ChatsOf(_ context.Context, userID string) ([]chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []chat.Chat{}
	for _, row := range s.chats {
		for _, m := range row.members {
			if m == userID {
				out = append(out, *s.populateLocked(row))
				break
			}
		}
	}

	sortChats(out)
	return out, nil
}

func (s *Memory) RenameChat(_ context.Context, chatID, name string) (*chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %q: %w", chatID, ErrNotFound)
	}

	row.name = name
	row.updatedAt = s.tick(row.updatedAt)
	return s.populateLocked(row), nil
}

func (s *Memory) AddMember(_ context.Context, chatID, userID string) (*chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %q: %w", chatID, ErrNotFound)
	}
	if _, ok := s.users[userID]; !ok {
		return nil, fmt.Errorf("user %q: %w", userID, ErrNotFound)
	}

	for _, m := range row.members {
		if m == userID {
			return nil, fmt.Errorf("user %q in chat %q: %w", userID, chatID, ErrDuplicate)
		}
	}

	row.members = append(row.members, userID)
	row.updatedAt = s.tick(row.updatedAt)
	return s.populateLocked(row), nil
}

func (s *Memory) RemoveMember(_ context.Context, chatID, userID string) (*chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %q: %w", chatID, ErrNotFound)
	}

	kept := row.members[:0:0]
	for _, m := range row.members {
		if m != userID {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(row.members) {
		return nil, fmt.Errorf("user %q in chat %q: %w", userID, chatID, ErrNotMember)
	}

	row.members = kept
	row.updatedAt = s.tick(row.updatedAt)
	return s.populateLocked(row), nil
}

func (s *Memory) CreateMessage(_ context.Context, m *chat.Message) (*chat.Message, error) {
	chatID := m.ConversationID()

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %q: %w", chatID, ErrNotFound)
	}

	msg := &memMessage{
		id:        uuid.NewString(),
		chatID:    chatID,
		senderID:  m.Sender.ID,
		content:   m.Content,
		imageKey:  m.ImageKey,
		createdAt: s.tick(row.updatedAt),
	}

	s.messages[chatID] = append(s.messages[chatID], msg)
	s.byID[msg.id] = msg

	row.latestID = msg.id
	row.updatedAt = msg.createdAt

	out := s.messageLocked(msg)
	out.Chat = s.populateLocked(row)
	return &out, nil
}

func (s *Memory) Messages(_ context.Context, chatID string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, fmt.Errorf("chat %q: %w", chatID, ErrNotFound)
	}

	rows := s.messages[chatID]
	limit = normalizeLimit(limit, DefaultHistoryLimit)
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	out := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.messageLocked(row))
	}
	return out, nil
}

func (s *Memory) Ping(context.Context) error {
	return nil
}

func (s *Memory) Close(context.Context) error {
	return nil
}

func (s *Memory) messageLocked(row *memMessage) chat.Message {
	m := chat.Message{
		ID:        row.id,
		ChatID:    row.chatID,
		Content:   row.content,
		ImageKey:  row.imageKey,
		CreatedAt: row.createdAt,
	}
	if u, ok := s.users[row.senderID]; ok {
		m.Sender = u.Profile()
	} else {
		m.Sender = user.Profile{ID: row.senderID}
	}
	return m
}

func (s *Memory) populateLocked(row *memChat) *chat.Chat {
	c := &chat.Chat{
		ID:        row.id,
		Name:      row.name,
		IsGroup:   row.isGroup,
		Users:     s.profilesLocked(row.members),
		CreatedAt: row.createdAt,
		UpdatedAt: row.updatedAt,
	}

	if u, ok := s.users[row.adminID]; ok {
		admin := u.Profile()
		c.Admin = &admin
	}

	if latest, ok := s.byID[row.latestID]; ok {
		m := s.messageLocked(latest)
		c.LatestMessage = &m
	}

	return c
}
