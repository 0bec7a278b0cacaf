package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/logx"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres opens a connection pool and applies pending migrations.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := runMigrations(ctx, sqlDB); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

// runMigrations applies all pending migrations from the embedded file system.
func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	logx.Info("Database migrations applied", "version", version)
	return nil
}

// IsUniqueViolation checks if the error is a PostgreSQL unique constraint violation (code 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// IsForeignKeyViolation checks if the error is a PostgreSQL foreign key violation (code 23503).
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *Postgres) CreateUser(ctx context.Context, u *user.User) error {
	id := uuid.NewString()

	var createdAt time.Time
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, name, email, avatar, password_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		id, u.Name, u.Email, u.Avatar, u.PasswordHash,
	).Scan(&createdAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("email %q: %w", u.Email, ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	u.ID = id
	u.CreatedAt = createdAt
	return nil
}

const userColumns = `id, name, email, avatar, password_hash, created_at`

func scanUser(row pgx.Row) (*user.User, error) {
	u := &user.User{}
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Avatar, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Postgres) UserByID(ctx context.Context, id string) (*user.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "user "+id)
	}
	return u, nil
}

func (s *Postgres) UserByEmail(ctx context.Context, email string) (*user.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, notFound(err, "email "+email)
	}
	return u, nil
}

func (s *Postgres) Profiles(ctx context.Context, ids []string) ([]user.Profile, error) {
	return profiles(ctx, s.pool, ids)
}

func profiles(ctx context.Context, q querier, ids []string) ([]user.Profile, error) {
	rows, err := q.Query(ctx, `SELECT id, name, email, avatar FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}

	byID, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (user.Profile, error) {
		var p user.Profile
		err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Avatar)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan profiles: %w", err)
	}

	index := make(map[string]user.Profile, len(byID))
	for _, p := range byID {
		index[p.ID] = p
	}

	out := make([]user.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := index[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func likePattern(query string) string {
	q := strings.TrimSpace(query)
	q = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
	return "%" + q + "%"
}

func (s *Postgres) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]user.Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email, avatar FROM users
		 WHERE id <> $1 AND (name ILIKE $2 OR email ILIKE $2)
		 ORDER BY name, id
		 LIMIT $3`,
		excludeID, likePattern(query), normalizeLimit(limit, DefaultSearchLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (user.Profile, error) {
		var p user.Profile
		err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Avatar)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	return out, nil
}

func (s *Postgres) DirectChat(ctx context.Context, a, b string) (*chat.Chat, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT id FROM chats WHERE direct_key = $1`, DirectKey(a, b)).Scan(&id)
	if err != nil {
		return nil, notFound(err, "direct chat "+DirectKey(a, b))
	}
	return s.ChatByID(ctx, id)
}

func (s *Postgres) CreateChat(ctx context.Context, c *chat.Chat) (*chat.Chat, error) {
	ids, err := memberIDs(c)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()

	var directKey, adminID *string
	if !c.IsGroup {
		key := DirectKey(ids[0], ids[1])
		directKey = &key
	}
	if c.Admin != nil {
		adminID = &c.Admin.ID
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chats (id, name, is_group, admin_id, direct_key) VALUES ($1, $2, $3, $4, $5)`,
			id, c.Name, c.IsGroup, adminID, directKey,
		); err != nil {
			return err
		}

		for _, memberID := range ids {
			if _, err := tx.Exec(ctx,
				`INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)`, id, memberID,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		switch {
		case IsUniqueViolation(err):
			return nil, fmt.Errorf("direct chat: %w", ErrDuplicate)
		case IsForeignKeyViolation(err):
			return nil, fmt.Errorf("chat member: %w", ErrNotFound)
		default:
			return nil, fmt.Errorf("insert chat: %w", err)
		}
	}

	return s.ChatByID(ctx, id)
}

type chatRow struct {
	chat     chat.Chat
	adminID  string
	latestID string
}

const chatColumns = `id, name, is_group, COALESCE(admin_id, ''), COALESCE(latest_message_id, ''), created_at, updated_at`

// loadChats runs a chat query and populates members, admin and latest message.
func (s *Postgres) loadChats(ctx context.Context, query string, args ...any) ([]chat.Chat, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select chats: %w", err)
	}

	chatRows, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chatRow, error) {
		var r chatRow
		err := row.Scan(&r.chat.ID, &r.chat.Name, &r.chat.IsGroup, &r.adminID, &r.latestID, &r.chat.CreatedAt, &r.chat.UpdatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan chats: %w", err)
	}

	if len(chatRows) == 0 {
		return []chat.Chat{}, nil
	}

	chatIDs := make([]string, 0, len(chatRows))
	var adminIDs, latestIDs []string
	for _, r := range chatRows {
		chatIDs = append(chatIDs, r.chat.ID)
		if r.adminID != "" {
			adminIDs = append(adminIDs, r.adminID)
		}
		if r.latestID != "" {
			latestIDs = append(latestIDs, r.latestID)
		}
	}

	members, err := s.members(ctx, chatIDs)
	if err != nil {
		return nil, err
	}

	admins, err := profiles(ctx, s.pool, chat.Dedupe(adminIDs))
	if err != nil {
		return nil, err
	}
	adminByID := make(map[string]user.Profile, len(admins))
	for _, a := range admins {
		adminByID[a.ID] = a
	}

	latest, err := s.messagesByID(ctx, latestIDs)
	if err != nil {
		return nil, err
	}

	out := make([]chat.Chat, 0, len(chatRows))
	for _, r := range chatRows {
		c := r.chat
		c.Users = members[c.ID]
		if c.Users == nil {
			c.Users = []user.Profile{}
		}
		if a, ok := adminByID[r.adminID]; ok {
			c.Admin = &a
		}
		if m, ok := latest[r.latestID]; ok {
			c.LatestMessage = &m
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Postgres) members(ctx context.Context, chatIDs []string) (map[string][]user.Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.chat_id, u.id, u.name, u.email, u.avatar
		 FROM chat_members m JOIN users u ON u.id = m.user_id
		 WHERE m.chat_id = ANY($1)
		 ORDER BY m.position`,
		chatIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select members: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]user.Profile, len(chatIDs))
	for rows.Next() {
		var chatID string
		var p user.Profile
		if err := rows.Scan(&chatID, &p.ID, &p.Name, &p.Email, &p.Avatar); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out[chatID] = append(out[chatID], p)
	}
	return out, rows.Err()
}

const messageColumns = `msg.id, msg.chat_id, msg.content, msg.image_key, msg.created_at, u.id, u.name, u.email, u.avatar`

func scanMessage(row pgx.CollectableRow) (chat.Message, error) {
	var m chat.Message
	err := row.Scan(&m.ID, &m.ChatID, &m.Content, &m.ImageKey, &m.CreatedAt,
		&m.Sender.ID, &m.Sender.Name, &m.Sender.Email, &m.Sender.Avatar)
	return m, err
}

func (s *Postgres) messagesByID(ctx context.Context, ids []string) (map[string]chat.Message, error) {
	out := make(map[string]chat.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages msg JOIN users u ON u.id = msg.sender_id WHERE msg.id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select latest messages: %w", err)
	}

	messages, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("scan latest messages: %w", err)
	}

	for _, m := range messages {
		out[m.ID] = m
	}
	return out, nil
}

func (s *Postgres) ChatByID(ctx context.Context, id string) (*chat.Chat, error) {
	chats, err := s.loadChats(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, fmt.Errorf("chat %q: %w", id, ErrNotFound)
	}
	return &chats[0], nil
}

func (s *Postgres) ChatsOf(ctx context.Context, userID string) ([]chat.Chat, error) {
	return s.loadChats(ctx,
		`SELECT `+chatColumns+` FROM chats
		 WHERE id IN (SELECT chat_id FROM chat_members WHERE user_id = $1)
		 ORDER BY updated_at DESC, id`,
		userID,
	)
}

func (s *Postgres) RenameChat(ctx context.Context, chatID, name string) (*chat.Chat, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE chats SET name = $2, updated_at = clock_timestamp() WHERE id = $1`, chatID, name)
	if err != nil {
		return nil, fmt.Errorf("rename chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("chat %q: %w", chatID, ErrNotFound)
	}
	return s.ChatByID(ctx, chatID)
}

func (s *Postgres) AddMember(ctx context.Context, chatID, userID string) (*chat.Chat, error) {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)`, chatID, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE chats SET updated_at = clock_timestamp() WHERE id = $1`, chatID)
		return err
	})
	if err != nil {
		switch {
		case IsUniqueViolation(err):
			return nil, fmt.Errorf("user %q in chat %q: %w", userID, chatID, ErrDuplicate)
		case IsForeignKeyViolation(err):
			return nil, fmt.Errorf("chat %q or user %q: %w", chatID, userID, ErrNotFound)
		default:
			return nil, fmt.Errorf("add member: %w", err)
		}
	}
	return s.ChatByID(ctx, chatID)
}

func (s *Postgres) RemoveMember(ctx context.Context, chatID, userID string) (*chat.Chat, error) {
	var removed int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM chat_members WHERE chat_id = $1 AND user_id = $2`, chatID, userID)
		if err != nil {
			return err
		}
		removed = tag.RowsAffected()
		if removed == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE chats SET updated_at = clock_timestamp() WHERE id = $1`, chatID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("remove member: %w", err)
	}

	if removed == 0 {
		if _, err := s.ChatByID(ctx, chatID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("user %q in chat %q: %w", userID, chatID, ErrNotMember)
	}
	return s.ChatByID(ctx, chatID)
}

func (s *Postgres) CreateMessage(ctx context.Context, m *chat.Message) (*chat.Message, error) {
	chatID := m.ConversationID()
	id := uuid.NewString()

	var createdAt time.Time
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO messages (id, chat_id, sender_id, content, image_key)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING created_at`,
			id, chatID, m.Sender.ID, m.Content, m.ImageKey,
		).Scan(&createdAt); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`UPDATE chats SET latest_message_id = $2, updated_at = $3 WHERE id = $1`,
			chatID, id, createdAt,
		)
		return err
	})
	if err != nil {
		if IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("chat %q or sender %q: %w", chatID, m.Sender.ID, ErrNotFound)
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}

	c, err := s.ChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	out := chat.Message{
		ID:        id,
		ChatID:    chatID,
		Sender:    m.Sender,
		Chat:      c,
		Content:   m.Content,
		ImageKey:  m.ImageKey,
		CreatedAt: createdAt,
	}
	for _, u := range c.Users {
		if u.ID == m.Sender.ID {
			out.Sender = u
		}
	}
	return &out, nil
}

func (s *Postgres) Messages(ctx context.Context, chatID string, limit int) ([]chat.Message, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)`, chatID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check chat: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("chat %q: %w", chatID, ErrNotFound)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT * FROM (
		     SELECT `+messageColumns+`
		     FROM messages msg JOIN users u ON u.id = msg.sender_id
		     WHERE msg.chat_id = $1
		     ORDER BY msg.created_at DESC, msg.id DESC
		     LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		chatID, normalizeLimit(limit, DefaultHistoryLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}

	out, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return out, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close(context.Context) error {
	s.pool.Close()
	return nil
}
