package pow

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveAndValidate(t *testing.T) {
	m := NewManager(2)
	defer m.Stop()

	nonce := m.GenerateNonce()
	counter, err := Solve(nonce, m.Difficulty(), 1_000_000)
	require.NoError(t, err)

	token, err := m.ValidateProof(nonce, counter)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = m.ValidateProof(nonce, counter)
	assert.ErrorIs(t, err, ErrNonceInvalid, "a nonce is single use")
}

func TestValidateRejectsWeakProof(t *testing.T) {
	m := NewManager(2)
	defer m.Stop()

	nonce := m.GenerateNonce()
	for i := 0; ; i++ {
		counter := string(rune('a' + i%26))
		if !Meets(nonce, counter, 2) {
			_, err := m.ValidateProof(nonce, counter)
			assert.ErrorIs(t, err, ErrProofTooWeak)
			return
		}
	}
}

func TestRequireBurnsToken(t *testing.T) {
	m := NewManager(1)
	defer m.Stop()

	nonce := m.GenerateNonce()
	counter, err := Solve(nonce, 1, 100_000)
	require.NoError(t, err)
	token, err := m.ValidateProof(nonce, counter)
	require.NoError(t, err)

	h := m.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(TokenHeaderKey, token)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDisabledGatePassesThrough(t *testing.T) {
	m := NewManager(0)
	defer m.Stop()

	h := m.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSweepExpires(t *testing.T) {
	m := NewManager(1)
	defer m.Stop()

	nonce := m.GenerateNonce()
	m.sweep(time.Now().Add(NonceExpiryDuration + time.Second))

	_, err := m.ValidateProof(nonce, "0")
	assert.ErrorIs(t, err, ErrNonceInvalid)
}
