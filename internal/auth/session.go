package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Role is the resolved profile variant of an account.
type Role string

const (
	RoleNone    Role = ""
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Valid reports whether r names a profile variant.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

var ErrSessionNotFound = errors.New("session not found")

// Session is the server-side state of one signed-in client. Role and ProfileID
// are filled once identity resolution succeeds and stay fixed afterwards.
type Session struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role,omitempty"`
	ProfileID string    `json:"profile_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore keeps live sessions; deleting one signs the client out.
type SessionStore interface {
	Save(ctx context.Context, s Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}

// RedisSessions stores sessions as JSON values with a TTL.
type RedisSessions struct {
	client *redis.Client
	prefix string
}

// NewRedisSessions builds a redis-backed store.
func NewRedisSessions(client *redis.Client, prefix string) *RedisSessions {
	if prefix == "" {
		prefix = "odportal:session:"
	}
	return &RedisSessions{client: client, prefix: prefix}
}

func (r *RedisSessions) Save(ctx context.Context, s Session, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		// keep the remaining lifetime when updating an existing session
		return r.client.SetArgs(ctx, r.prefix+s.ID, raw, redis.SetArgs{KeepTTL: true}).Err()
	}
	return r.client.Set(ctx, r.prefix+s.ID, raw, ttl).Err()
}

func (r *RedisSessions) Get(ctx context.Context, id string) (Session, error) {
	raw, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (r *RedisSessions) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.prefix+id).Err()
}

// MemorySessions is an in-process store for dev and tests.
type MemorySessions struct {
	mu    sync.Mutex
	items map[string]memorySession
	now   func() time.Time
}

type memorySession struct {
	session   Session
	expiresAt time.Time
}

// NewMemorySessions creates an empty in-memory store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{items: make(map[string]memorySession), now: time.Now}
}

func (m *MemorySessions) Save(_ context.Context, s Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	expires := m.now().Add(ttl)
	if ttl <= 0 {
		prev, ok := m.items[s.ID]
		if !ok {
			return ErrSessionNotFound
		}
		expires = prev.expiresAt
	}
	m.items[s.ID] = memorySession{session: s, expiresAt: expires}
	return nil
}

func (m *MemorySessions) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if !m.now().Before(item.expiresAt) {
		delete(m.items, id)
		return Session{}, ErrSessionNotFound
	}
	return item.session, nil
}

func (m *MemorySessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}
