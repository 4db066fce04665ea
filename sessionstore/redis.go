// Package sessionstore provides a Redis-backed session store for
// alexedwards/scs, so sessions survive restarts and can be shared between
// replicas.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "ooth:session:"

// RedisStore implements scs.Store and scs.CtxStore on a go-redis client.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// New wraps an existing client. Keys are namespaced under "ooth:session:".
func New(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: defaultPrefix}
}

// NewWithPrefix overrides the key namespace.
func NewWithPrefix(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(token string) string { return s.prefix + token }

func (s *RedisStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *RedisStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	return s.client.Set(ctx, s.key(token), b, time.Until(expiry)).Err()
}

func (s *RedisStore) DeleteCtx(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.key(token)).Err()
}

// Context-free variants required by the base scs.Store interface.

func (s *RedisStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *RedisStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *RedisStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}
