package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps users in a hash and each conversation in a sorted set
// scored by a global message sequence.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ Service = (*RedisStore)(nil)

// NewRedisStore connects using a redis:// URL and pings the server.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "redis: parse url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis: ping")
	}
	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "relay:", now: time.Now}
}

func (s *RedisStore) usersKey() string { return s.prefix + "users" }

func (s *RedisStore) seqKey() string { return s.prefix + "msg:seq" }

// ConversationKey names the sorted set holding the messages between a and b.
// The pair is sorted so both directions share one key.
func ConversationKey(prefix, a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return fmt.Sprintf("%sdm:%s:%s", prefix, p[0], p[1])
}

// PersistMessage assigns a sequence id and adds msg to the pair's sorted set.
func (s *RedisStore) PersistMessage(ctx context.Context, msg Message) (Message, error) {
	msg, err := validateMessage(msg)
	if err != nil {
		return msg, err
	}

	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return msg, errors.Wrap(err, "redis: next message id")
	}
	msg.ID = strconv.FormatInt(seq, 10)
	msg.CreatedAt = stamp(s.now())

	data, err := json.Marshal(msg)
	if err != nil {
		return msg, errors.Wrap(err, "redis: marshal message")
	}

	key := ConversationKey(s.prefix, msg.SenderID, msg.ReceiverID)
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: float64(seq), Member: data}).Err(); err != nil {
		return msg, errors.Wrap(err, "redis: append message")
	}
	return msg, nil
}

// FetchConversation returns the head of the pair's sorted set, oldest first.
func (s *RedisStore) FetchConversation(ctx context.Context, userA, userB string, limit int) ([]Message, error) {
	limit = normalizeLimit(limit)
	vals, err := s.client.ZRange(ctx, ConversationKey(s.prefix, userA, userB), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis: read conversation")
	}

	out := make([]Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, errors.Wrap(err, "redis: decode message")
		}
		out = append(out, m)
	}
	return out, nil
}

// ListUsers reads the users hash, ordered by username.
func (s *RedisStore) ListUsers(ctx context.Context) ([]User, error) {
	all, err := s.client.HGetAll(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis: read users")
	}

	out := make([]User, 0, len(all))
	for id, name := range all {
		out = append(out, User{ID: id, Username: name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username == out[j].Username {
			return out[i].ID < out[j].ID
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}

// CreateUser upserts u into the users hash.
func (s *RedisStore) CreateUser(ctx context.Context, u User) error {
	if err := validateUser(u); err != nil {
		return err
	}
	return errors.Wrap(s.client.HSet(ctx, s.usersKey(), u.ID, u.Username).Err(), "redis: upsert user")
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
