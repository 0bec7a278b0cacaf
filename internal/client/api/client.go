/*
Package api is a small REST client for the relaychat server. It speaks the response
envelope of package resp and surfaces business failures as *Error.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/pow"
)

const (
	defaultTimeout = 15 * time.Second

	// maxPowIterations bounds the registration proof search.
	maxPowIterations = 50_000_000
)

// Error is a non-zero business code answered by the server.
type Error struct {
	Status  int
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// CodeOf returns the business code of err, or 0 when err is not an *Error.
func CodeOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Session is what register and login answer with.
type Session struct {
	Token string       `json:"token"`
	User  user.Profile `json:"user"`
}

// Client calls the REST surface. It is safe for concurrent use once the token is set.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string

	logger zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client with its 15 s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken resumes an existing session.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New returns a client for the server at baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme %q", base.Scheme)
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: logx.Component("APIClient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Token returns the identity token of the current session.
func (c *Client) Token() string {
	return c.token
}

// SocketURL returns the websocket endpoint of the same server.
func (c *Client) SocketURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a JSON request and decodes the envelope's data into dst.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dst any, header http.Header) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	r, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		r.Header[k] = v
	}

	return c.send(r, dst)
}

func (c *Client) send(r *http.Request, dst any) error {
	r.Header.Set("Accept", "application/json")
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	res, err := c.http.Do(r)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.Method, r.URL.Path, err)
	}
	defer res.Body.Close()

	c.logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", res.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("API request")

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return &Error{Status: res.StatusCode, Message: fmt.Sprintf("undecodable response: %v", err)}
	}

	if env.Code != 0 || res.StatusCode >= http.StatusBadRequest {
		return &Error{Status: res.StatusCode, Code: env.Code, Message: env.Message}
	}

	if dst != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			return fmt.Errorf("decode %s response: %w", r.URL.Path, err)
		}
	}
	return nil
}

// Register creates an account, solving the proof-of-work challenge first when the
// server demands one, and keeps the returned token.
func (c *Client) Register(ctx context.Context, name, email, password string) (*Session, error) {
	header := http.Header{}

	proof, err := c.proofToken(ctx)
	if err != nil {
		return nil, err
	}
	if proof != "" {
		header.Set(pow.TokenHeaderKey, proof)
	}

	body := map[string]string{"name": name, "email": email, "password": password}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", nil, body, &session, header); err != nil {
		return nil, err
	}
	c.token = session.Token
	return &session, nil
}

// proofToken returns "" when the server does not require a proof.
func (c *Client) proofToken(ctx context.Context) (string, error) {
	var challenge struct {
		Nonce      string `json:"nonce"`
		Difficulty int    `json:"difficulty"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/pow/challenge", nil, nil, &challenge, nil); err != nil {
		return "", err
	}
	if challenge.Difficulty <= 0 {
		return "", nil
	}

	started := time.Now()
	counter, err := pow.Solve(challenge.Nonce, challenge.Difficulty, maxPowIterations)
	if err != nil {
		return "", err
	}
	c.logger.Debug().Int("difficulty", challenge.Difficulty).Dur("duration", time.Since(started)).Msg("Proof of work solved")

	var verified struct {
		Token string `json:"powToken"`
	}
	body := map[string]string{"nonce": challenge.Nonce, "counter": counter}
	if err := c.do(ctx, http.MethodPost, "/api/pow/verify", nil, body, &verified, nil); err != nil {
		return "", err
	}
	return verified.Token, nil
}

// Login signs in and keeps the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, body, &session, nil); err != nil {
		return nil, err
	}
	c.token = session.Token
	return &session, nil
}

// Profile returns the signed-in user.
func (c *Client) Profile(ctx context.Context) (user.Profile, error) {
	var out struct {
		User user.Profile `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "/api/users/profile", nil, nil, &out, nil)
	return out.User, err
}

// SearchUsers finds other users by name or email.
func (c *Client) SearchUsers(ctx context.Context, search string, limit int) ([]user.Profile, error) {
	query := url.Values{"search": {search}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out []user.Profile
	err := c.do(ctx, http.MethodGet, "/api/users/search", query, nil, &out, nil)
	return out, err
}

// OnlineUsers returns the ids the hub currently sees online.
func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	var out struct {
		UserIDs []string `json:"userIds"`
	}
	err := c.do(ctx, http.MethodGet, "/api/users/online", nil, nil, &out, nil)
	return out.UserIDs, err
}

// AccessChat returns the direct conversation with userID, creating it if needed.
func (c *Client) AccessChat(ctx context.Context, userID string) (chat.Chat, error) {
	var out chat.Chat
	err := c.do(ctx, http.MethodPost, "/api/chats", nil, map[string]string{"userId": userID}, &out, nil)
	return out, err
}

// Chats lists the caller's conversations, most recent first.
func (c *Client) Chats(ctx context.Context) ([]chat.Chat, error) {
	var out []chat.Chat
	err := c.do(ctx, http.MethodGet, "/api/chats", nil, nil, &out, nil)
	return out, err
}

// CreateGroup creates a group with the caller as admin.
func (c *Client) CreateGroup(ctx context.Context, name string, userIDs []string) (chat.Chat, error) {
	body := map[string]any{"name": name, "users": userIDs}

	var out chat.Chat
	err := c.do(ctx, http.MethodPost, "/api/chats/group", nil, body, &out, nil)
	return out, err
}

// RenameGroup changes a group's display name.
func (c *Client) RenameGroup(ctx context.Context, chatID, name string) (chat.Chat, error) {
	body := map[string]string{"chatId": chatID, "chatName": name}

	var out chat.Chat
	err := c.do(ctx, http.MethodPut, "/api/chats/group/rename", nil, body, &out, nil)
	return out, err
}

// AddToGroup adds userID to a group.
func (c *Client) AddToGroup(ctx context.Context, chatID, userID string) (chat.Chat, error) {
	return c.groupMember(ctx, "/api/chats/group/add", chatID, userID)
}

// RemoveFromGroup removes userID from a group.
func (c *Client) RemoveFromGroup(ctx context.Context, chatID, userID string) (chat.Chat, error) {
	return c.groupMember(ctx, "/api/chats/group/remove", chatID, userID)
}

func (c *Client) groupMember(ctx context.Context, path, chatID, userID string) (chat.Chat, error) {
	body := map[string]string{"chatId": chatID, "userId": userID}

	var out chat.Chat
	err := c.do(ctx, http.MethodPut, path, nil, body, &out, nil)
	return out, err
}

// SendMessage persists a message and returns it populated, ready for PublishMessage.
func (c *Client) SendMessage(ctx context.Context, chatID, content, imageKey string) (chat.Message, error) {
	body := map[string]string{"chatId": chatID}
	if content != "" {
		body["content"] = content
	}
	if imageKey != "" {
		body["imageKey"] = imageKey
	}

	var out chat.Message
	err := c.do(ctx, http.MethodPost, "/api/messages", nil, body, &out, nil)
	return out, err
}

// Messages returns a conversation's history, oldest first.
func (c *Client) Messages(ctx context.Context, chatID string, limit int) ([]chat.Message, error) {
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": {strconv.Itoa(limit)}}
	}

	var out []chat.Message
	err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(chatID), query, nil, &out, nil)
	return out, err
}

// Upload is a stored image.
type Upload struct {
	ImageKey string `json:"imageKey"`
	ImageURL string `json:"imageUrl"`
}

// UploadImage sends an image through the server.
func (c *Client) UploadImage(ctx context.Context, fileName, mimeType string, body io.Reader) (Upload, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, fileName))
	partHeader.Set("Content-Type", mimeType)

	part, err := form.CreatePart(partHeader)
	if err != nil {
		return Upload{}, err
	}
	if _, err := io.Copy(part, body); err != nil {
		return Upload{}, err
	}
	if err := form.Close(); err != nil {
		return Upload{}, err
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/file/upload", nil), &buf)
	if err != nil {
		return Upload{}, err
	}
	r.Header.Set("Content-Type", form.FormDataContentType())

	var out Upload
	err = c.send(r, &out)
	return out, err
}
