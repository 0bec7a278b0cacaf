package realtime

import "sort"

// Presence counts live identified connections per user. A user is online while the
// count is above zero.
type Presence struct {
	counts map[string]int
}

// NewPresence returns an empty tracker.
func NewPresence() *Presence {
	return &Presence{counts: make(map[string]int)}
}

// Add records one more connection for userID and reports a 0 to 1 transition.
func (p *Presence) Add(userID string) bool {
	p.counts[userID]++
	return p.counts[userID] == 1
}

// Remove records one connection fewer for userID and reports a 1 to 0 transition.
// Removing an unknown user is a no-op.
func (p *Presence) Remove(userID string) bool {
	n, ok := p.counts[userID]
	if !ok {
		return false
	}

	if n <= 1 {
		delete(p.counts, userID)
		return true
	}

	p.counts[userID] = n - 1
	return false
}

// IsOnline reports whether userID has at least one connection.
func (p *Presence) IsOnline(userID string) bool {
	return p.counts[userID] > 0
}

// Count returns the number of connections recorded for userID.
func (p *Presence) Count(userID string) int {
	return p.counts[userID]
}

// Online returns the online user ids, sorted.
func (p *Presence) Online() []string {
	users := make([]string, 0, len(p.counts))
	for userID := range p.counts {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}
