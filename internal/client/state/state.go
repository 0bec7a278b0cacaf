/*
Package state is the client-side view of a chat session: the conversation list with
unread counters, the open conversation's history, pending notifications, the presence
cache and the typing indicator.

A message can reach the client twice (the sender's REST response and the socket
fan-out, or message-received and notification for the same message). Every path that
inserts a message checks its id first, so applying the same message any number of times
has the effect of applying it once.

Store is not safe for concurrent use; the bridge drives it from a single loop.
*/
package state

import (
	"sort"
	"time"

	"relaychat/internal/app/chat"
)

// TypingTimeout clears a typing indicator that was never followed by stop-typing.
const TypingTimeout = 3000 * time.Millisecond

// Scheduler runs fn after d and returns a function that cancels it. Implementations
// must call fn on the goroutine that owns the Store. Without a scheduler an expired
// typing indicator is cleared lazily, the next time it is read.
type Scheduler func(d time.Duration, fn func()) (cancel func())

// Outcome reports what applying an inbound message did.
type Outcome int

const (
	// Ignored: the message carried no usable conversation id.
	Ignored Outcome = iota
	// Appended to the open conversation's history.
	Appended
	// Counted as unread in a conversation that is not open.
	Counted
	// Duplicate of a message already applied.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Counted:
		return "counted"
	case Duplicate:
		return "duplicate"
	default:
		return "ignored"
	}
}

// ChatSummary is a conversation as the list shows it.
type ChatSummary struct {
	chat.Chat
	Unread int `json:"unread"`
}

// Store holds the client state of one signed-in user.
type Store struct {
	me       string
	schedule Scheduler
	now      func() time.Time

	chats []*ChatSummary
	index map[string]*ChatSummary

	// counted remembers which message ids already bumped a conversation's counter.
	counted map[string]map[string]struct{}

	selected string
	messages []chat.Message
	seen     map[string]struct{}

	notifications []chat.Notification

	online map[string]struct{}

	typingChat   string
	typingUntil  time.Time
	cancelTyping func()
	typingGen    uint64
}

// Option configures a Store.
type Option func(*Store)

// WithScheduler makes the typing auto-clear active instead of lazy.
func WithScheduler(s Scheduler) Option {
	return func(st *Store) { st.schedule = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(st *Store) { st.now = now }
}

// New returns an empty Store for the user me.
func New(me string, opts ...Option) *Store {
	s := &Store{
		me:      me,
		now:     time.Now,
		index:   make(map[string]*ChatSummary),
		counted: make(map[string]map[string]struct{}),
		seen:    make(map[string]struct{}),
		online:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetScheduler installs sch after construction, for owners whose executor is created
// later than the Store. It takes effect from the next typing event.
func (s *Store) SetScheduler(sch Scheduler) {
	s.schedule = sch
}

// Me returns the id of the signed-in user.
func (s *Store) Me() string {
	return s.me
}

// SetChats replaces the conversation list with a REST listing. Unread counters of
// conversations that stay in the list are kept.
func (s *Store) SetChats(chats []chat.Chat) {
	next := make([]*ChatSummary, 0, len(chats))
	index := make(map[string]*ChatSummary, len(chats))

	for _, c := range chats {
		if _, dup := index[c.ID]; dup || c.ID == "" {
			continue
		}
		summary := &ChatSummary{Chat: c}
		if prev, ok := s.index[c.ID]; ok {
			summary.Unread = prev.Unread
		}
		next = append(next, summary)
		index[c.ID] = summary
	}

	s.chats = next
	s.index = index
}

// Chats returns a copy of the conversation list, most recently active first.
func (s *Store) Chats() []ChatSummary {
	out := make([]ChatSummary, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, *c)
	}
	return out
}

// Chat returns one conversation.
func (s *Store) Chat(chatID string) (ChatSummary, bool) {
	c, ok := s.index[chatID]
	if !ok {
		return ChatSummary{}, false
	}
	return *c, true
}

// UpsertChat replaces a known conversation's details or adds a new one at the top.
func (s *Store) UpsertChat(c chat.Chat) {
	if c.ID == "" {
		return
	}
	if existing, ok := s.index[c.ID]; ok {
		latest := existing.LatestMessage
		existing.Chat = c
		if existing.LatestMessage == nil {
			existing.LatestMessage = latest
		}
		return
	}

	summary := &ChatSummary{Chat: c}
	s.chats = append([]*ChatSummary{summary}, s.chats...)
	s.index[c.ID] = summary
}

// SelectChat opens a conversation: its unread counter drops to zero and its
// notifications are removed. Counters of other conversations are untouched.
func (s *Store) SelectChat(chatID string) {
	if chatID != s.selected {
		s.selected = chatID
		s.messages = nil
		s.seen = make(map[string]struct{})
	}

	if c, ok := s.index[chatID]; ok {
		c.Unread = 0
	}
	delete(s.counted, chatID)

	kept := s.notifications[:0]
	for _, n := range s.notifications {
		if n.Message.ConversationID() != chatID {
			kept = append(kept, n)
		}
	}
	s.notifications = kept
}

// CloseChat leaves the open conversation.
func (s *Store) CloseChat() {
	s.selected = ""
	s.messages = nil
	s.seen = make(map[string]struct{})
}

// SelectedChat returns the open conversation id, or "".
func (s *Store) SelectedChat() string {
	return s.selected
}

// SetMessages seeds the open conversation with its REST history. Messages already
// applied from the socket are kept, so nothing is lost if the fan-out won the race.
func (s *Store) SetMessages(chatID string, history []chat.Message) {
	if chatID != s.selected {
		return
	}

	pending := s.messages
	s.messages = make([]chat.Message, 0, len(history)+len(pending))
	s.seen = make(map[string]struct{}, len(history)+len(pending))

	for _, m := range history {
		s.insert(m)
	}
	for _, m := range pending {
		s.insert(m)
	}

	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
}

// Messages returns a copy of the open conversation's history.
func (s *Store) Messages() []chat.Message {
	return append([]chat.Message(nil), s.messages...)
}

// insert appends m to the open history unless its id is already present.
func (s *Store) insert(m chat.Message) bool {
	if m.ID == "" {
		return false
	}
	if _, dup := s.seen[m.ID]; dup {
		return false
	}
	s.seen[m.ID] = struct{}{}
	m.Chat = nil
	s.messages = append(s.messages, m)
	return true
}

// AppendLocal records the sender's own persisted message.
func (s *Store) AppendLocal(m chat.Message) Outcome {
	chatID := m.ConversationID()
	if chatID == "" {
		return Ignored
	}

	s.UpdateLatestMessage(chatID, m)

	if chatID != s.selected {
		return Ignored
	}
	if !s.insert(m) {
		return Duplicate
	}
	return Appended
}

// ApplyIncomingMessage merges a message pushed by the hub.
func (s *Store) ApplyIncomingMessage(m chat.Message) Outcome {
	chatID := m.ConversationID()
	if chatID == "" || m.ID == "" {
		return Ignored
	}

	if m.Chat != nil {
		s.ensureChat(*m.Chat)
	}
	s.UpdateLatestMessage(chatID, m)

	if chatID == s.selected {
		if !s.insert(m) {
			return Duplicate
		}
		return Appended
	}

	if m.Sender.ID == s.me {
		// Own message from another session of the same user.
		return Ignored
	}

	if !s.countUnread(chatID, m.ID) {
		return Duplicate
	}

	s.addNotification(m)
	return Counted
}

// ApplyNotification merges an inbox notification. It behaves like
// ApplyIncomingMessage and also learns conversations the client did not list yet.
func (s *Store) ApplyNotification(n chat.Notification) Outcome {
	if n.Chat.ID != "" {
		s.ensureChat(n.Chat)
	}

	m := n.Message
	if m.ChatID == "" {
		m.ChatID = n.Chat.ID
	}
	if m.Chat == nil && n.Chat.ID != "" {
		c := n.Chat
		m.Chat = &c
	}
	return s.ApplyIncomingMessage(m)
}

func (s *Store) ensureChat(c chat.Chat) {
	if _, ok := s.index[c.ID]; !ok {
		c.LatestMessage = nil
		s.UpsertChat(c)
	}
}

func (s *Store) countUnread(chatID, messageID string) bool {
	ids, ok := s.counted[chatID]
	if !ok {
		ids = make(map[string]struct{})
		s.counted[chatID] = ids
	}
	if _, dup := ids[messageID]; dup {
		return false
	}
	ids[messageID] = struct{}{}

	if c, ok := s.index[chatID]; ok {
		c.Unread++
	}
	return true
}

func (s *Store) addNotification(m chat.Message) {
	for _, n := range s.notifications {
		if n.Message.ID == m.ID {
			return
		}
	}

	n := chat.Notification{Message: m}
	n.Message.Chat = nil
	if c, ok := s.index[m.ConversationID()]; ok {
		n.Chat = c.Chat
		n.Chat.LatestMessage = nil
	} else if m.Chat != nil {
		n.Chat = *m.Chat
	}
	s.notifications = append(s.notifications, n)
}

// UpdateLatestMessage sets the conversation preview and moves it to the top of the
// list. Older messages do not replace a newer preview.
func (s *Store) UpdateLatestMessage(chatID string, m chat.Message) {
	c, ok := s.index[chatID]
	if !ok {
		return
	}

	if latest := c.LatestMessage; latest != nil {
		if latest.ID == m.ID || m.CreatedAt.Before(latest.CreatedAt) {
			return
		}
	}

	c.LatestMessage = m.Preview()
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}

	for i, existing := range s.chats {
		if existing == c {
			copy(s.chats[1:i+1], s.chats[:i])
			s.chats[0] = c
			break
		}
	}
}

// Notifications returns the pending notifications, oldest first.
func (s *Store) Notifications() []chat.Notification {
	return append([]chat.Notification(nil), s.notifications...)
}

// DismissNotification removes the notification for one message. The unread counter
// is left as is.
func (s *Store) DismissNotification(messageID string) bool {
	for i, n := range s.notifications {
		if n.Message.ID == messageID {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			return true
		}
	}
	return false
}

// Unread returns the conversation's unread counter.
func (s *Store) Unread(chatID string) int {
	if c, ok := s.index[chatID]; ok {
		return c.Unread
	}
	return 0
}

// TotalUnread sums every conversation's counter.
func (s *Store) TotalUnread() int {
	total := 0
	for _, c := range s.chats {
		total += c.Unread
	}
	return total
}
