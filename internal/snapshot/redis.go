package snapshot

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding the snapshot when the target URL
// does not name one.
const DefaultRedisKey = "tallyctl:snapshot"

// Redis stores the snapshot as one hash of Node_<id> -> count.
type Redis struct {
	client redis.UniversalClient
	key    string
}

func NewRedis(client redis.UniversalClient, key string) *Redis {
	if strings.TrimSpace(key) == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// NewRedisFromURL parses redis://[user:pass@]host:port/db?key=<hash>.
// The key parameter is consumed here; everything else goes to go-redis.
func NewRedisFromURL(raw string) (*Redis, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("snapshot: parse redis url: %w", err)
	}
	q := u.Query()
	key := q.Get("key")
	q.Del("key")
	u.RawQuery = q.Encode()

	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("snapshot: parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts), key), nil
}

func (r *Redis) String() string {
	return fmt.Sprintf("redis:%s", r.key)
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Load(ctx context.Context) (map[string]uint64, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("snapshot: redis hgetall %s: %w", r.key, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: redis key %s", ErrNotFound, r.key)
	}
	doc := make(map[string]any, len(fields))
	for k, raw := range fields {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q value %q", ErrCorrupt, k, raw)
		}
		doc[k] = v
	}
	return Decode(doc)
}

// Save replaces the hash inside MULTI/EXEC so readers never observe a
// mix of old and new fields.
func (r *Redis) Save(ctx context.Context, counts map[string]uint64) error {
	doc, err := Encode(counts)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(doc))
	for k, v := range doc {
		values[k] = strconv.FormatUint(v, 10)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(values) > 0 {
			pipe.HSet(ctx, r.key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapshot: redis save %s: %w", r.key, err)
	}
	return nil
}
