package directory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore keeps users and messages in process memory. It backs tests and
// single-process deployments that do not need history across restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	messages []Message
	seq      int64
	now      func() time.Time
}

var _ Service = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]User),
		now:   time.Now,
	}
}

// PersistMessage appends msg to the in-memory log.
func (s *MemoryStore) PersistMessage(_ context.Context, msg Message) (Message, error) {
	msg, err := validateMessage(msg)
	if err != nil {
		return msg, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	msg.ID = strconv.FormatInt(s.seq, 10)
	msg.CreatedAt = stamp(s.now())
	s.messages = append(s.messages, msg)
	return msg, nil
}

// FetchConversation scans the log for the pair, keeping the first limit
// messages in insertion order.
func (s *MemoryStore) FetchConversation(_ context.Context, userA, userB string, limit int) ([]Message, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Message{}
	for _, m := range s.messages {
		if len(out) == limit {
			break
		}
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			out = append(out, m)
		}
	}
	return out, nil
}

// ListUsers returns users sorted by username.
func (s *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username == out[j].Username {
			return out[i].ID < out[j].ID
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}

// CreateUser upserts u.
func (s *MemoryStore) CreateUser(_ context.Context, u User) error {
	if err := validateUser(u); err != nil {
		return err
	}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
