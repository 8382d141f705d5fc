package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/infra/storage"
)

// Client keeps conversation history, conversation state and shared
// counters in Redis.
type Client struct {
	rdb          *redis.Client
	historyLimit int
	historyTTL   time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`

	// HistoryLimit caps stored messages per contact.
	HistoryLimit int `yaml:"history_limit"`
	// HistoryTTL expires idle conversations.
	HistoryTTL time.Duration `yaml:"history_ttl"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg), nil
}

func newClient(rdb *redis.Client, cfg Config) *Client {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = 7 * 24 * time.Hour
	}
	return &Client{rdb: rdb, historyLimit: cfg.HistoryLimit, historyTTL: cfg.HistoryTTL}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func historyKey(contactID string) string {
	return fmt.Sprintf("athena:history:%s", contactID)
}

func stateKey(contactID string) string {
	return fmt.Sprintf("athena:state:%s", contactID)
}

func counterKey(key string) string {
	return "athena:counter:" + key
}

// Append pushes msg onto the contact's history, newest first, and trims it.
func (c *Client) Append(ctx context.Context, contactID string, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := historyKey(contactID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, int64(c.historyLimit-1))
		pipe.Expire(ctx, key, c.historyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history failed: %w", err)
	}
	return nil
}

// Recent returns up to n messages, oldest first. n <= 0 returns all.
func (c *Client) Recent(ctx context.Context, contactID string, n int) ([]domain.Message, error) {
	stop := int64(n - 1)
	if n <= 0 {
		stop = -1
	}

	raw, err := c.rdb.LRange(ctx, historyKey(contactID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}
	return decodeHistory(raw)
}

// decodeHistory reverses a newest-first list into oldest-first messages.
func decodeHistory(raw []string) ([]domain.Message, error) {
	msgs := make([]domain.Message, len(raw))
	for i, item := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		msgs[len(raw)-1-i] = m
	}
	return msgs, nil
}

// State returns the conversation state, StateIdle when unset.
func (c *Client) State(ctx context.Context, contactID string) (domain.ConversationState, error) {
	val, err := c.rdb.Get(ctx, stateKey(contactID)).Result()
	if err == redis.Nil {
		return domain.StateIdle, nil
	}
	if err != nil {
		return "", fmt.Errorf("get failed: %w", err)
	}
	return domain.ConversationState(val), nil
}

// SetState stores the conversation state with the history TTL.
func (c *Client) SetState(ctx context.Context, contactID string, state domain.ConversationState) error {
	return c.rdb.Set(ctx, stateKey(contactID), string(state), c.historyTTL).Err()
}

// Clear drops history and state.
func (c *Client) Clear(ctx context.Context, contactID string) error {
	return c.rdb.Del(ctx, historyKey(contactID), stateKey(contactID)).Err()
}

// incrScript increments a counter and sets its expiry on first use
// atomically.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Incr increments a shared counter that expires ttl after its first use.
func (c *Client) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrScript.Run(ctx, c.rdb, []string{counterKey(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("incr failed: %w", err)
	}
	return n, nil
}

var _ storage.HistoryStore = (*Client)(nil)
