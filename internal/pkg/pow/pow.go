/*
Package pow implements the proof-of-work gate in front of account registration.

A client asks for a nonce, searches for a counter such that sha256(nonce+counter) in hex
starts with difficulty zeros, and trades the proof for a short-lived token that the
register endpoint accepts once.
*/
package pow

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/resp"
)

const (
	// TokenHeaderKey carries the proof token on the gated request.
	TokenHeaderKey = "X-PoW-Token"

	// ProofTokenDuration is how long an issued proof token stays valid.
	ProofTokenDuration = 30 * time.Second

	// NonceExpiryDuration is how long a challenge nonce stays valid.
	NonceExpiryDuration = 5 * time.Minute
)

var (
	ErrNonceInvalid    = errors.New("nonce expired or invalid")
	ErrProofTooWeak    = errors.New("proof does not meet difficulty requirement")
	ErrNonceConsumed   = errors.New("nonce consumed by concurrent request")
	ErrSolveIterations = errors.New("no proof found within the iteration budget")
)

// Manager issues nonces and proof tokens. A difficulty of zero disables the gate.
type Manager struct {
	difficulty int

	nonceStore map[string]time.Time
	tokenStore map[string]time.Time
	mu         sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager returns a Manager and starts its expiry sweep.
func NewManager(difficulty int) *Manager {
	m := &Manager{
		difficulty: difficulty,
		nonceStore: make(map[string]time.Time),
		tokenStore: make(map[string]time.Time),
		stop:       make(chan struct{}),
	}

	go m.sweepLoop()

	return m
}

// Difficulty returns the number of leading hex zeros required.
func (m *Manager) Difficulty() int {
	return m.difficulty
}

// Enabled reports whether proofs are required.
func (m *Manager) Enabled() bool {
	return m.difficulty > 0
}

// Stop ends the sweep goroutine.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// GenerateNonce issues a new challenge nonce.
func (m *Manager) GenerateNonce() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	nonce := uuid.New().String()
	m.nonceStore[nonce] = time.Now().Add(NonceExpiryDuration)
	return nonce
}

// ValidateProof checks counter against nonce, consumes the nonce and returns a proof token.
func (m *Manager) ValidateProof(nonce, counter string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiryTime, ok := m.nonceStore[nonce]
	if !ok || time.Now().After(expiryTime) {
		return "", ErrNonceInvalid
	}

	if !Meets(nonce, counter, m.difficulty) {
		return "", ErrProofTooWeak
	}

	delete(m.nonceStore, nonce)

	token := uuid.New().String()
	m.tokenStore[token] = time.Now().Add(ProofTokenDuration)
	return token, nil
}

// ConsumeProofToken reports whether r carries a live proof token and burns it.
func (m *Manager) ConsumeProofToken(r *http.Request) bool {
	token := r.Header.Get(TokenHeaderKey)
	if token == "" {
		token = r.URL.Query().Get("pow_token")
	}

	if token == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiryTime, ok := m.tokenStore[token]
	if !ok {
		return false
	}
	delete(m.tokenStore, token)

	return time.Now().Before(expiryTime)
}

// Require gates next behind a proof token when the manager is enabled.
func (m *Manager) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Enabled() && !m.ConsumeProofToken(r) {
			resp.RespondError(w, r, errs.NewError(errs.ErrPowChallengeRequired))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Meets reports whether sha256(nonce+counter) has difficulty leading hex zeros.
func Meets(nonce, counter string, difficulty int) bool {
	hash := sha256.Sum256([]byte(nonce + counter))
	return strings.HasPrefix(hex.EncodeToString(hash[:]), strings.Repeat("0", difficulty))
}

// Solve searches counters 0..maxIterations-1 for a valid proof. Used by the terminal client.
func Solve(nonce string, difficulty int, maxIterations int) (string, error) {
	for i := 0; i < maxIterations; i++ {
		counter := strconv.Itoa(i)
		if Meets(nonce, counter, difficulty) {
			return counter, nil
		}
	}
	return "", ErrSolveIterations
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for nonce, expiry := range m.nonceStore {
		if now.After(expiry) {
			delete(m.nonceStore, nonce)
		}
	}

	for token, expiry := range m.tokenStore {
		if now.After(expiry) {
			delete(m.tokenStore, token)
		}
	}
}
