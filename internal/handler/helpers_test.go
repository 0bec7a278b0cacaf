package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"relaychat/internal/app/realtime"
	"relaychat/internal/app/storage"
	"relaychat/internal/app/store"
	"relaychat/internal/app/user"
	"relaychat/internal/configs"
	"relaychat/internal/pkg/pow"
)

const testSecret = "handler-test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]storage.ObjectInfo
	deleted []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]storage.ObjectInfo)}
}

func (f *fakeStorage) put(key, contentType string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = storage.ObjectInfo{ContentType: contentType, Size: size}
}

func (f *fakeStorage) PresignUpload(_ context.Context, key, _ string, _ int64, _ time.Duration) (string, error) {
	return "https://bucket.test/" + key + "?signed=1", nil
}

func (f *fakeStorage) Upload(_ context.Context, key, mimeType string, body io.Reader) error {
	n, err := io.Copy(io.Discard, body)
	if err != nil {
		return err
	}
	f.put(key, mimeType, n)
	return nil
}

func (f *fakeStorage) Stat(_ context.Context, key string) (*storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &info, nil
}

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStorage) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

type testServer struct {
	*httptest.Server
	deps *AppDeps
}

func newTestServer(t *testing.T, mutate ...func(*AppDeps)) *testServer {
	t.Helper()

	hub := realtime.NewHub(realtime.HubOptions{InstanceID: "test"})
	go hub.Run()
	t.Cleanup(hub.Stop)

	powManager := pow.NewManager(0)
	t.Cleanup(powManager.Stop)

	deps := &AppDeps{
		Config: &configs.AppConfig{Environment: "development", JWTSecret: testSecret},
		Store:  store.NewMemory(),
		Hub:    hub,
		Pow:    powManager,
		Limits: Limits{AuthRate: rate.Inf, AuthBurst: 1000, SocketRate: rate.Inf, SocketBurst: 1000},
	}
	for _, fn := range mutate {
		fn(deps)
	}

	router, stop := Router(deps)
	t.Cleanup(stop)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, deps: deps}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, header ...string) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	r, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}

	res, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	defer res.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return res.StatusCode, env
}

// ok asserts success and decodes data into dst.
func (s *testServer) ok(t *testing.T, method, path, token string, body, dst any) {
	t.Helper()
	status, env := s.do(t, method, path, token, body)
	require.Less(t, status, 300, "%s %s: %d %s", method, path, env.Code, env.Message)
	require.Zero(t, env.Code)
	if dst != nil {
		require.NoError(t, json.Unmarshal(env.Data, dst))
	}
}

type session struct {
	Token string       `json:"token"`
	User  user.Profile `json:"user"`
}

func (s *testServer) register(t *testing.T, name string) session {
	t.Helper()
	var out session
	s.ok(t, http.MethodPost, "/api/auth/register", "", RegisterInput{
		Name:     name,
		Email:    name + "@example.com",
		Password: "secret1",
	}, &out)
	require.NotEmpty(t, out.Token)
	return out
}
