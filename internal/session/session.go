package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pazarglobal/assistant/config"
)

const (
	sessionKeyPrefix = "session:"
	messageKeyPrefix = "messages:"
)

// Pending action kinds awaiting a yes/no from the user.
const (
	PendingPublish = "publish"
	PendingDelete  = "delete"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// PendingAction marks a destructive/costly action awaiting confirmation.
// A confirm arriving after ExpiresAt must not trigger the action.
type PendingAction struct {
	Kind      string    `json:"kind"`
	DraftID   string    `json:"draft_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the confirmation window has closed.
func (p *PendingAction) Expired(now time.Time) bool {
	return p == nil || now.After(p.ExpiresAt)
}

// Session is the per-conversation state record.
type Session struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	ActiveDraftID string         `json:"active_draft_id,omitempty"`
	Pending       *PendingAction `json:"pending,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastActivity  time.Time      `json:"last_activity"`
}

// Message is one turn of the bounded conversation history.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Store keeps sessions and their message history in Redis with a TTL.
type Store struct {
	client       *redis.Client
	ttl          time.Duration
	historyLimit int
}

// Connect opens a Redis connection and verifies it with a ping.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Addr(), err)
	}
	return client, nil
}

// NewStore creates a session store over the given Redis client.
func NewStore(client *redis.Client, cfg config.SessionConfig) *Store {
	return &Store{client: client, ttl: cfg.TTL, historyLimit: cfg.HistoryLimit}
}

func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	val, err := s.client.Get(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// Save writes the session and refreshes its TTL.
func (s *Store) Save(ctx context.Context, sess Session) error {
	sess.LastActivity = time.Now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.client.Set(ctx, sessionKeyPrefix+sess.ID, data, s.ttl).Err()
}

// Create initializes a fresh session record.
func (s *Store) Create(ctx context.Context, id, userID string) (Session, error) {
	now := time.Now().UTC()
	sess := Session{ID: id, UserID: userID, CreatedAt: now, LastActivity: now}
	if err := s.Save(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, sessionKeyPrefix+id, messageKeyPrefix+id).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage pushes one turn onto the bounded history, evicting the oldest.
func (s *Store) AppendMessage(ctx context.Context, id string, msg Message) error {
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	key := messageKeyPrefix + id
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return err
	}
	if err := s.client.LTrim(ctx, key, 0, int64(s.historyLimit-1)).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}

// Messages returns up to limit recent turns in chronological order.
func (s *Store) Messages(ctx context.Context, id string, limit int) ([]Message, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	vals, err := s.client.LRange(ctx, messageKeyPrefix+id, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- { // LPUSH stores newest first
		var msg Message
		if err := json.Unmarshal([]byte(vals[i]), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}
