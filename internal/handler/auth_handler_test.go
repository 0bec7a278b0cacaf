package handler

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/pow"
)

func TestRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t)

	ada := srv.register(t, "ada")
	assert.Equal(t, "ada", ada.User.Name)
	assert.Equal(t, "ada@example.com", ada.User.Email)
	assert.True(t, strings.HasPrefix(ada.User.Avatar, "https://"), "default avatar assigned")

	var login session
	srv.ok(t, http.MethodPost, "/api/auth/login", "", LoginInput{Email: " ADA@example.com ", Password: "secret1"}, &login)
	assert.Equal(t, ada.User.ID, login.User.ID)

	status, env := srv.do(t, http.MethodPost, "/api/auth/login", "", LoginInput{Email: "ada@example.com", Password: "wrong!!"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, errs.ErrInvalidCredentials, env.Code)
}

func TestRegisterRejections(t *testing.T) {
	srv := newTestServer(t)
	ada := srv.register(t, "ada")

	cases := map[string]struct {
		input RegisterInput
		token string
		code  int
	}{
		"duplicate email": {RegisterInput{Name: "Ada 2", Email: "ada@example.com", Password: "secret1"}, "", errs.ErrUserAlreadyExists},
		"bad email":       {RegisterInput{Name: "x", Email: "not-an-email", Password: "secret1"}, "", errs.ErrInvalidEmail},
		"short password":  {RegisterInput{Name: "x", Email: "x@example.com", Password: "123"}, "", errs.ErrInvalidPassword},
		"empty name":      {RegisterInput{Name: "  ", Email: "y@example.com", Password: "secret1"}, "", errs.ErrInvalidName},
		"already in":      {RegisterInput{Name: "z", Email: "z@example.com", Password: "secret1"}, ada.Token, errs.ErrAlreadyLoggedIn},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, env := srv.do(t, http.MethodPost, "/api/auth/register", tc.token, tc.input)
			assert.Equal(t, tc.code, env.Code)
		})
	}
}

func TestRegisterRequiresProofOfWork(t *testing.T) {
	srv := newTestServer(t, func(d *AppDeps) {
		d.Pow.Stop()
		d.Pow = pow.NewManager(1)
	})
	t.Cleanup(srv.deps.Pow.Stop)

	input := RegisterInput{Name: "ada", Email: "ada@example.com", Password: "secret1"}

	status, env := srv.do(t, http.MethodPost, "/api/auth/register", "", input)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, errs.ErrPowChallengeRequired, env.Code)

	var challenge struct {
		Nonce      string `json:"nonce"`
		Difficulty int    `json:"difficulty"`
	}
	srv.ok(t, http.MethodPost, "/api/pow/challenge", "", nil, &challenge)
	require.Equal(t, 1, challenge.Difficulty)

	counter, err := pow.Solve(challenge.Nonce, challenge.Difficulty, 1_000_000)
	require.NoError(t, err)

	var proof struct {
		Token string `json:"powToken"`
	}
	srv.ok(t, http.MethodPost, "/api/pow/verify", "", PowVerifyInput{Nonce: challenge.Nonce, Counter: counter}, &proof)

	status, env = srv.do(t, http.MethodPost, "/api/auth/register", "", input, pow.TokenHeaderKey, proof.Token)
	assert.Equal(t, http.StatusCreated, status, env.Message)

	_, env = srv.do(t, http.MethodPost, "/api/pow/verify", "", PowVerifyInput{Nonce: challenge.Nonce, Counter: counter})
	assert.Equal(t, errs.ErrPowChallengeInvalid, env.Code, "nonce is single use")
}

func TestProtectedRoutesNeedIdentity(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/users/profile", "/api/chats", "/api/users/online"} {
		status, env := srv.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)
		assert.Equal(t, errs.ErrUnauthorized, env.Code, path)
	}

	_, env := srv.do(t, http.MethodGet, "/api/users/profile", "garbage", nil)
	assert.Equal(t, errs.ErrUnauthorized, env.Code)
}
