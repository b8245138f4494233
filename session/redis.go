package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/psdweb/types"
)

// DefaultKeyPrefix namespaces session keys.
const DefaultKeyPrefix = "psdweb:upload:"

// maxTxAttempts bounds optimistic-lock retries when two appends race on one
// session.
const maxTxAttempts = 3

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Config
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// KeyPrefix namespaces keys (default: psdweb:upload:).
	KeyPrefix string
}

// RedisStore keeps sessions in Redis.
//
// Each session is two keys: <prefix><id> holds the msgpack-encoded
// UploadSession, <prefix><id>:chunks is a list of raw chunk payloads in
// index order. Both carry the session TTL so Redis expires them together.
// Appends run under WATCH on the session key.
type RedisStore struct {
	cfg    Config
	prefix string
	client *goredis.Client
}

// NewRedisStore creates a Redis-backed store.
// Returns an error if the URL is empty or invalid.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis session store requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis session store: invalid URL: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisStore{
		cfg:    cfg.Config.withDefaults(),
		prefix: prefix,
		client: goredis.NewClient(opts),
	}, nil
}

func (r *RedisStore) sessionKey(id string) string { return r.prefix + id }
func (r *RedisStore) chunksKey(id string) string  { return r.prefix + id + ":chunks" }

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Create opens a session.
func (r *RedisStore) Create(ctx context.Context, fileName string, expectedSize *int64) (*types.UploadSession, error) {
	s, err := newSession(r.cfg, fileName, expectedSize)
	if err != nil {
		return nil, err
	}
	enc, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.sessionKey(s.ID), enc, r.cfg.TTL).Err(); err != nil {
		return nil, fmt.Errorf("redis session store: create: %w", err)
	}
	return s, nil
}

// Append adds one chunk under an optimistic lock on the session key.
func (r *RedisStore) Append(ctx context.Context, id string, index *int, data []byte) (*types.UploadSession, error) {
	key := r.sessionKey(id)
	var out *types.UploadSession

	txf := func(tx *goredis.Tx) error {
		s, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := applyAppend(r.cfg, s, index, int64(len(data))); err != nil {
			return err
		}
		enc, err := msgpack.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, enc, goredis.KeepTTL)
			p.RPush(ctx, r.chunksKey(id), data)
			p.ExpireAt(ctx, r.chunksKey(id), s.ExpiresAt)
			return nil
		})
		if err != nil {
			return err
		}
		out = s
		return nil
	}

	if err := r.watch(ctx, txf, key); err != nil {
		return nil, err
	}
	return out, nil
}

// Complete reassembles the chunk list, checks the size invariant and marks
// the session completed. Chunk data is dropped afterwards.
func (r *RedisStore) Complete(ctx context.Context, id string) (*types.UploadSession, []byte, error) {
	key := r.sessionKey(id)
	var (
		out  *types.UploadSession
		data []byte
	)

	txf := func(tx *goredis.Tx) error {
		s, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		parts, err := tx.LRange(ctx, r.chunksKey(id), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("redis session store: read chunks: %w", err)
		}
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(p)
		}
		joined := []byte(b.String())
		if err := checkComplete(r.cfg, s, joined); err != nil {
			return err
		}
		s.Completed = true
		enc, err := msgpack.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, enc, goredis.KeepTTL)
			p.Del(ctx, r.chunksKey(id))
			return nil
		})
		if err != nil {
			return err
		}
		out, data = s, joined
		return nil
	}

	if err := r.watch(ctx, txf, key); err != nil {
		return nil, nil, err
	}
	return out, data, nil
}

// Get returns the session.
func (r *RedisStore) Get(ctx context.Context, id string) (*types.UploadSession, error) {
	return r.load(ctx, r.client, id)
}

// Delete removes the session and its chunk list.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.sessionKey(id), r.chunksKey(id)).Err(); err != nil {
		return fmt.Errorf("redis session store: delete: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) load(ctx context.Context, c getter, id string) (*types.UploadSession, error) {
	raw, err := c.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis session store: get: %w", err)
	}
	var s types.UploadSession
	if err := msgpack.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Expired(r.cfg.Now()) {
		return nil, ErrExpired
	}
	return &s, nil
}

func (r *RedisStore) watch(ctx context.Context, fn func(*goredis.Tx) error, keys ...string) error {
	var err error
	for range maxTxAttempts {
		err = r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis session store: concurrent update: %w", err)
}

// getter is satisfied by both *goredis.Client and *goredis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// Verify RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
