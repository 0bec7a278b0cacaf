package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/user"
)

type fakePeer struct {
	id       string
	capacity int

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newPeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Enqueue(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || (p.capacity > 0 && len(p.frames) >= p.capacity) {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) envelopes(t *testing.T) []Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Envelope, 0, len(p.frames))
	for _, f := range p.frames {
		env, err := DecodeEnvelope(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

// named returns the payloads of every received frame with the given event name.
func (p *fakePeer) named(t *testing.T, event EventName) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	for _, env := range p.envelopes(t) {
		if env.Event == event {
			out = append(out, env.Data)
		}
	}
	return out
}

// strings decodes the string payloads of every frame with the given event name.
func (p *fakePeer) strings(t *testing.T, event EventName) []string {
	t.Helper()
	var out []string
	for _, raw := range p.named(t, event) {
		var s string
		require.NoError(t, json.Unmarshal(raw, &s))
		out = append(out, s)
	}
	return out
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}

type recordingRelay struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (r *recordingRelay) Publish(d Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
}

func (r *recordingRelay) all() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

func startHub(t *testing.T, opts HubOptions) *Hub {
	t.Helper()
	h := NewHub(opts)
	go h.Run()
	t.Cleanup(func() {
		h.Stop()
		<-h.Done()
	})
	return h
}

// settle waits until every event submitted so far has been processed.
func settle(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := h.Stats(ctx)
	require.NoError(t, err)
}

func mustFrame(t *testing.T, event EventName, data any) []byte {
	t.Helper()
	frame, err := Encode(event, data)
	require.NoError(t, err)
	return frame
}

func connectAs(t *testing.T, h *Hub, connID, userID string) *fakePeer {
	t.Helper()
	p := newPeer(connID)
	h.Connect(p, "")
	h.Inbound(connID, mustFrame(t, EventSetup, user.Profile{ID: userID, Name: userID}))
	return p
}

func profiles(ids ...string) []user.Profile {
	out := make([]user.Profile, 0, len(ids))
	for _, id := range ids {
		out = append(out, user.Profile{ID: id, Name: id})
	}
	return out
}

func message(id, chatID, senderID string, members ...string) chat.Message {
	c := chat.Chat{ID: chatID, Users: profiles(members...)}
	return chat.Message{
		ID:        id,
		Sender:    user.Profile{ID: senderID, Name: senderID},
		Chat:      &c,
		Content:   "hello",
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
}
