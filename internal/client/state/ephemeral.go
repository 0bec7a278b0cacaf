package state

import "sort"

// SetOnline marks a user online.
func (s *Store) SetOnline(userID string) {
	if userID != "" {
		s.online[userID] = struct{}{}
	}
}

// SetOffline marks a user offline.
func (s *Store) SetOffline(userID string) {
	delete(s.online, userID)
}

// IsOnline reports the cached presence of a user.
func (s *Store) IsOnline(userID string) bool {
	_, ok := s.online[userID]
	return ok
}

// OnlineUsers returns the cached online set, sorted.
func (s *Store) OnlineUsers() []string {
	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ApplyTyping shows the typing indicator for chatID and (re)arms its auto-clear.
func (s *Store) ApplyTyping(chatID string) {
	if chatID == "" {
		return
	}

	s.stopTypingTimer()
	s.typingChat = chatID
	s.typingUntil = s.now().Add(TypingTimeout)
	s.typingGen++

	if s.schedule == nil {
		return
	}

	gen := s.typingGen
	s.cancelTyping = s.schedule(TypingTimeout, func() {
		if s.typingGen == gen {
			s.typingChat = ""
			s.cancelTyping = nil
		}
	})
}

// ApplyStopTyping clears the indicator if it belongs to chatID.
func (s *Store) ApplyStopTyping(chatID string) {
	s.expireTyping()
	if s.typingChat == "" || (chatID != "" && chatID != s.typingChat) {
		return
	}
	s.clearTyping()
}

// TypingChat returns the conversation currently showing a typing indicator, or "".
func (s *Store) TypingChat() string {
	s.expireTyping()
	return s.typingChat
}

func (s *Store) expireTyping() {
	if s.typingChat != "" && !s.now().Before(s.typingUntil) {
		s.clearTyping()
	}
}

// ClearEphemeral forgets presence and typing state, as on disconnect.
func (s *Store) ClearEphemeral() {
	s.online = make(map[string]struct{})
	s.clearTyping()
}

func (s *Store) clearTyping() {
	s.stopTypingTimer()
	s.typingChat = ""
	s.typingGen++
}

func (s *Store) stopTypingTimer() {
	if s.cancelTyping != nil {
		s.cancelTyping()
		s.cancelTyping = nil
	}
}
