package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/user"
)

const (
	usersCollection    = "users"
	chatsCollection    = "chats"
	messagesCollection = "messages"
)

type chatDoc struct {
	ID              string    `bson:"_id"`
	Name            string    `bson:"name"`
	IsGroup         bool      `bson:"isGroup"`
	AdminID         string    `bson:"adminId,omitempty"`
	Members         []string  `bson:"members"`
	DirectKey       string    `bson:"directKey,omitempty"`
	LatestMessageID string    `bson:"latestMessageId,omitempty"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

type messageDoc struct {
	ID        string    `bson:"_id"`
	ChatID    string    `bson:"chatId"`
	SenderID  string    `bson:"senderId"`
	Content   string    `bson:"content"`
	ImageKey  string    `bson:"imageKey,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
}

// Mongo is a Store backed by MongoDB. Documents reference each other by id and are
// populated on read.
type Mongo struct {
	client   *mongo.Client
	users    *mongo.Collection
	chats    *mongo.Collection
	messages *mongo.Collection
}

var _ Store = (*Mongo)(nil)

// OpenMongo connects, pings and ensures the indexes the store relies on.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Mongo{
		client:   client,
		users:    db.Collection(usersCollection),
		chats:    db.Collection(chatsCollection),
		messages: db.Collection(messagesCollection),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Mongo) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "name", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}

	if _, err := s.chats.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "directKey", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"directKey": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "members", Value: 1}, {Key: "updatedAt", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("chats indexes: %w", err)
	}

	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "createdAt", Value: -1}},
	}); err != nil {
		return fmt.Errorf("messages indexes: %w", err)
	}
	return nil
}

func mongoNotFound(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *Mongo) CreateUser(ctx context.Context, u *user.User) error {
	doc := *u
	doc.ID = uuid.NewString()
	doc.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("email %q: %w", u.Email, ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	u.ID = doc.ID
	u.CreatedAt = doc.CreatedAt
	return nil
}

func (s *Mongo) findUser(ctx context.Context, filter bson.M, what string) (*user.User, error) {
	var u user.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, mongoNotFound(err, what)
	}
	return &u, nil
}

func (s *Mongo) UserByID(ctx context.Context, id string) (*user.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, "user "+id)
}

func (s *Mongo) UserByEmail(ctx context.Context, email string) (*user.User, error) {
	return s.findUser(ctx, bson.M{"email": email}, "email "+email)
}

func (s *Mongo) profileIndex(ctx context.Context, ids []string) (map[string]user.Profile, error) {
	index := make(map[string]user.Profile, len(ids))
	if len(ids) == 0 {
		return index, nil
	}

	cursor, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find profiles: %w", err)
	}

	var found []user.Profile
	if err := cursor.All(ctx, &found); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}

	for _, p := range found {
		index[p.ID] = p
	}
	return index, nil
}

func (s *Mongo) Profiles(ctx context.Context, ids []string) ([]user.Profile, error) {
	index, err := s.profileIndex(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]user.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := index[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Mongo) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]user.Profile, error) {
	filter := bson.M{"_id": bson.M{"$ne": excludeID}}
	if q := strings.TrimSpace(query); q != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(q), "$options": "i"}
		filter["$or"] = bson.A{bson.M{"name": pattern}, bson.M{"email": pattern}}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(normalizeLimit(limit, DefaultSearchLimit)))

	cursor, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	out := []user.Profile{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return out, nil
}

func (s *Mongo) DirectChat(ctx context.Context, a, b string) (*chat.Chat, error) {
	var doc chatDoc
	if err := s.chats.FindOne(ctx, bson.M{"directKey": DirectKey(a, b)}).Decode(&doc); err != nil {
		return nil, mongoNotFound(err, "direct chat "+DirectKey(a, b))
	}
	return s.populate(ctx, &doc)
}

func (s *Mongo) CreateChat(ctx context.Context, c *chat.Chat) (*chat.Chat, error) {
	ids, err := memberIDs(c)
	if err != nil {
		return nil, err
	}

	index, err := s.profileIndex(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(index) != len(ids) {
		return nil, fmt.Errorf("chat member: %w", ErrNotFound)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := chatDoc{
		ID:        uuid.NewString(),
		Name:      c.Name,
		IsGroup:   c.IsGroup,
		Members:   ids,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !c.IsGroup {
		doc.DirectKey = DirectKey(ids[0], ids[1])
	}
	if c.Admin != nil {
		doc.AdminID = c.Admin.ID
	}

	if _, err := s.chats.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("direct chat: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	return s.populate(ctx, &doc)
}

func (s *Mongo) chatDoc(ctx context.Context, id string) (*chatDoc, error) {
	var doc chatDoc
	if err := s.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mongoNotFound(err, "chat "+id)
	}
	return &doc, nil
}

func (s *Mongo) ChatByID(ctx context.Context, id string) (*chat.Chat, error) {
	doc, err := s.chatDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.populate(ctx, doc)
}

func (s *Mongo) ChatsOf(ctx context.Context, userID string) ([]chat.Chat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: 1}})

	cursor, err := s.chats.Find(ctx, bson.M{"members": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find chats: %w", err)
	}

	var docs []chatDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}

	out := make([]chat.Chat, 0, len(docs))
	for i := range docs {
		c, err := s.populate(ctx, &docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// update applies change to one chat and returns it populated.
func (s *Mongo) update(ctx context.Context, filter bson.M, change bson.M) (*chat.Chat, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc chatDoc
	if err := s.chats.FindOneAndUpdate(ctx, filter, change, opts).Decode(&doc); err != nil {
		return nil, err
	}
	return s.populate(ctx, &doc)
}

func (s *Mongo) RenameChat(ctx context.Context, chatID, name string) (*chat.Chat, error) {
	c, err := s.update(ctx, bson.M{"_id": chatID}, bson.M{"$set": bson.M{
		"name":      name,
		"updatedAt": time.Now().UTC().Truncate(time.Millisecond),
	}})
	if err != nil {
		return nil, mongoNotFound(err, "chat "+chatID)
	}
	return c, nil
}

func (s *Mongo) AddMember(ctx context.Context, chatID, userID string) (*chat.Chat, error) {
	if _, err := s.UserByID(ctx, userID); err != nil {
		return nil, err
	}

	c, err := s.update(ctx,
		bson.M{"_id": chatID, "members": bson.M{"$ne": userID}},
		bson.M{
			"$push": bson.M{"members": userID},
			"$set":  bson.M{"updatedAt": time.Now().UTC().Truncate(time.Millisecond)},
		},
	)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("add member: %w", err)
	}

	if _, err := s.chatDoc(ctx, chatID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("user %q in chat %q: %w", userID, chatID, ErrDuplicate)
}

func (s *Mongo) RemoveMember(ctx context.Context, chatID, userID string) (*chat.Chat, error) {
	c, err := s.update(ctx,
		bson.M{"_id": chatID, "members": userID},
		bson.M{
			"$pull": bson.M{"members": userID},
			"$set":  bson.M{"updatedAt": time.Now().UTC().Truncate(time.Millisecond)},
		},
	)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("remove member: %w", err)
	}

	if _, err := s.chatDoc(ctx, chatID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("user %q in chat %q: %w", userID, chatID, ErrNotMember)
}

func (s *Mongo) CreateMessage(ctx context.Context, m *chat.Message) (*chat.Message, error) {
	chatID := m.ConversationID()

	current, err := s.chatDoc(ctx, chatID)
	if err != nil {
		return nil, err
	}

	createdAt := time.Now().UTC().Truncate(time.Millisecond)
	if !createdAt.After(current.UpdatedAt) {
		createdAt = current.UpdatedAt.Add(time.Millisecond)
	}

	doc := messageDoc{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  m.Sender.ID,
		Content:   m.Content,
		ImageKey:  m.ImageKey,
		CreatedAt: createdAt,
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	c, err := s.update(ctx, bson.M{"_id": chatID}, bson.M{"$set": bson.M{
		"latestMessageId": doc.ID,
		"updatedAt":       createdAt,
	}})
	if err != nil {
		return nil, mongoNotFound(err, "chat "+chatID)
	}

	out, err := s.message(ctx, &doc)
	if err != nil {
		return nil, err
	}
	out.Chat = c
	return out, nil
}

func (s *Mongo) Messages(ctx context.Context, chatID string, limit int) ([]chat.Message, error) {
	if _, err := s.chatDoc(ctx, chatID); err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit, DefaultHistoryLimit)))

	cursor, err := s.messages.Find(ctx, bson.M{"chatId": chatID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	senders := make([]string, 0, len(docs))
	for _, d := range docs {
		senders = append(senders, d.SenderID)
	}
	index, err := s.profileIndex(ctx, chat.Dedupe(senders))
	if err != nil {
		return nil, err
	}

	out := make([]chat.Message, len(docs))
	for i, d := range docs {
		out[len(docs)-1-i] = messageFromDoc(&d, index)
	}
	return out, nil
}

func (s *Mongo) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func messageFromDoc(d *messageDoc, profiles map[string]user.Profile) chat.Message {
	m := chat.Message{
		ID:        d.ID,
		ChatID:    d.ChatID,
		Content:   d.Content,
		ImageKey:  d.ImageKey,
		CreatedAt: d.CreatedAt,
	}
	if p, ok := profiles[d.SenderID]; ok {
		m.Sender = p
	} else {
		m.Sender = user.Profile{ID: d.SenderID}
	}
	return m
}

func (s *Mongo) message(ctx context.Context, d *messageDoc) (*chat.Message, error) {
	index, err := s.profileIndex(ctx, []string{d.SenderID})
	if err != nil {
		return nil, err
	}
	m := messageFromDoc(d, index)
	return &m, nil
}

func (s *Mongo) populate(ctx context.Context, doc *chatDoc) (*chat.Chat, error) {
	ids := doc.Members
	if doc.AdminID != "" {
		ids = append(append([]string{}, doc.Members...), doc.AdminID)
	}

	index, err := s.profileIndex(ctx, chat.Dedupe(ids))
	if err != nil {
		return nil, err
	}

	c := &chat.Chat{
		ID:        doc.ID,
		Name:      doc.Name,
		IsGroup:   doc.IsGroup,
		Users:     make([]user.Profile, 0, len(doc.Members)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, id := range doc.Members {
		if p, ok := index[id]; ok {
			c.Users = append(c.Users, p)
		}
	}
	if p, ok := index[doc.AdminID]; ok {
		c.Admin = &p
	}

	if doc.LatestMessageID != "" {
		var latest messageDoc
		err := s.messages.FindOne(ctx, bson.M{"_id": doc.LatestMessageID}).Decode(&latest)
		switch {
		case err == nil:
			m, err := s.message(ctx, &latest)
			if err != nil {
				return nil, err
			}
			c.LatestMessage = m
		case !errors.Is(err, mongo.ErrNoDocuments):
			return nil, fmt.Errorf("latest message: %w", err)
		}
	}
	return c, nil
}
